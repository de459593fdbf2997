// Package config resolves the host list for a run, either from command line
// options or from a section of a TOML file, and validates every entry.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/pssh/pkg/config/configstore"
	"github.com/andrej220/pssh/pkg/config/filestore"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	DefaultUsername = "root"
	DefaultPort     = 22
	DefaultTimeout  = 10 * time.Second
)

var (
	ErrConflictingSources = errors.New("using toml file as config, not also setting hosts, username, password or port")
	ErrNoSource           = errors.New("no hosts given: use --hosts or --toml")
	ErrSectionWithoutFile = errors.New("--section requires --toml")
)

var validate = validator.New()

// Options mirrors the command line. Pointer fields are nil when the flag
// was not given, which is how the two host sources are told apart.
type Options struct {
	Hosts    []string
	Username *string
	Password *string
	Port     *int
	Timeout  time.Duration

	TOML    string
	Section *string

	// Fs is where the TOML file is read from. Nil means the OS filesystem.
	Fs afero.Fs
}

func (o Options) usingFlags() bool {
	return len(o.Hosts) > 0 || o.Username != nil || o.Password != nil || o.Port != nil
}

func (o Options) usingTOML() bool {
	return o.TOML != "" || o.Section != nil
}

// Section is one TOML table describing a group of hosts.
type Section struct {
	Username *string        `mapstructure:"username"`
	Password *string        `mapstructure:"password"`
	Port     *int           `mapstructure:"port"`
	Timeout  *time.Duration `mapstructure:"timeout"`
	Hosts    []string       `mapstructure:"hosts"`
	Host     []HostEntry    `mapstructure:"host"`
}

// HostEntry is a [[host]] table. Unset fields inherit from the section.
type HostEntry struct {
	Host     *string        `mapstructure:"host"`
	Username *string        `mapstructure:"username"`
	Password *string        `mapstructure:"password"`
	Port     *int           `mapstructure:"port"`
	Timeout  *time.Duration `mapstructure:"timeout"`
}

// Resolve turns the options into an indexed, validated host list. Indices
// follow resolution order.
func Resolve(opts Options) ([]models.HostSpec, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	var hosts []models.HostSpec
	var err error
	switch {
	case opts.usingFlags() && opts.usingTOML():
		return nil, ErrConflictingSources
	case opts.usingFlags():
		hosts = fromFlags(opts)
	case opts.usingTOML():
		if opts.TOML == "" {
			return nil, ErrSectionWithoutFile
		}
		section := ""
		if opts.Section != nil {
			section = *opts.Section
		}
		var fsOpts []filestore.Option
		if opts.Fs != nil {
			fsOpts = append(fsOpts, filestore.WithFs(opts.Fs))
		}
		hosts, err = FromStore(filestore.New(opts.TOML, section, fsOpts...), section, opts.Timeout)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSource
	}

	for i := range hosts {
		hosts[i].Index = i
	}
	if err := Validate(hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// SplitHosts splits host lists separated by commas, semicolons or spaces.
func SplitHosts(values ...string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ';' || r == ' '
		})...)
	}
	return out
}

func fromFlags(opts Options) []models.HostSpec {
	username := DefaultUsername
	if opts.Username != nil {
		username = *opts.Username
	}
	password := ""
	if opts.Password != nil {
		password = *opts.Password
	}
	port := DefaultPort
	if opts.Port != nil {
		port = *opts.Port
	}

	var hosts []models.HostSpec
	for _, h := range SplitHosts(opts.Hosts...) {
		hosts = append(hosts, models.HostSpec{
			Host:           h,
			Port:           port,
			Username:       username,
			Password:       password,
			ConnectTimeout: opts.Timeout,
		})
	}
	return hosts
}

// FromStore loads a Section from store and expands it. Plain hosts come
// first, then [[host]] tables, each in file order.
func FromStore(store configstore.ConfigStore, section string, timeout time.Duration) ([]models.HostSpec, error) {
	var sec Section
	if err := store.Load(&sec); err != nil {
		return nil, err
	}

	base := models.HostSpec{
		Username:       pick(sec.Username, DefaultUsername),
		Password:       pick(sec.Password, ""),
		Port:           pick(sec.Port, DefaultPort),
		ConnectTimeout: pick(sec.Timeout, timeout),
	}

	var hosts []models.HostSpec
	for _, h := range sec.Hosts {
		hs := base
		hs.Host = h
		hosts = append(hosts, hs)
	}

	for _, e := range sec.Host {
		if e.Host == nil {
			return nil, fmt.Errorf("host of %s is missing", location(section))
		}
		if *e.Host == "" {
			continue
		}
		hosts = append(hosts, models.HostSpec{
			Host:           *e.Host,
			Username:       pick(e.Username, base.Username),
			Password:       pick(e.Password, base.Password),
			Port:           pick(e.Port, base.Port),
			ConnectTimeout: pick(e.Timeout, base.ConnectTimeout),
		})
	}
	return hosts, nil
}

// Validate checks every host and names the first one that fails.
func Validate(hosts []models.HostSpec) error {
	for _, h := range hosts {
		if err := validate.Struct(h); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return fmt.Errorf("host %d (%s): invalid %s: failed %q check", h.Index, h.Host, strings.ToLower(fe.Field()), fe.Tag())
			}
			return fmt.Errorf("host %d (%s): %w", h.Index, h.Host, err)
		}
	}
	return nil
}

func pick[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

func location(section string) string {
	if section == "" {
		return "default section"
	}
	return "[" + section + "]"
}
