package filestore

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/andrej220/pssh/pkg/config/configstore"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

var (
	ErrNoSection = errors.New("section not found")
	ErrNotATable = errors.New("section is not a table")
	ErrEmptyFile = errors.New("config file is empty")
	ErrDuration  = errors.New("duration must be a string such as \"5s\"")
)

// keyDelimiter keeps dotted section names such as "prod.eu" intact.
const keyDelimiter = "::"

// FileStore reads one section of a TOML file. An empty Section selects the
// root table.
type FileStore struct {
	Path    string
	Section string
	fs      afero.Fs
}

type Option func(*FileStore)

func WithFs(fs afero.Fs) Option {
	return func(f *FileStore) { f.fs = fs }
}

func New(path, section string, opts ...Option) *FileStore {
	f := &FileStore{Path: path, Section: section, fs: afero.NewOsFs()}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FileStore) Load(out any) error {
	if out == nil || reflect.ValueOf(out).Kind() != reflect.Pointer {
		return fmt.Errorf("Load: output parameter must be a non-nil pointer")
	}

	info, err := f.fs.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("Load: %s: %w", f.Path, ErrEmptyFile)
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetFs(f.fs)
	v.SetConfigFile(f.Path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("Load: failed to parse TOML in %s: %w", f.Path, err)
	}

	if f.Section != "" {
		if !v.IsSet(f.Section) {
			return fmt.Errorf("Load: no [%s] in %s: %w", f.Section, f.Path, ErrNoSection)
		}
		sub := v.Sub(f.Section)
		if sub == nil {
			return fmt.Errorf("Load: [%s] in %s: %w", f.Section, f.Path, ErrNotATable)
		}
		v = sub
	}

	if err := v.Unmarshal(out, viper.DecoderConfigOption(strictDecoding)); err != nil {
		return fmt.Errorf("Load: failed to decode %s: %w", f.location(), err)
	}
	return nil
}

// strictDecoding makes every value keep its TOML type. A number is not
// accepted where a string belongs, a string is not split into a list, and
// durations must be written with a unit.
func strictDecoding(c *mapstructure.DecoderConfig) {
	c.WeaklyTypedInput = false
	c.DecodeHook = durationHook
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("%w, got %v", ErrDuration, data)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDuration, err)
	}
	return d, nil
}

func (f *FileStore) location() string {
	if f.Section == "" {
		return "default section"
	}
	return "[" + f.Section + "]"
}

// WriteSecureFile writes data readable only by the owner. The file is
// written to a temporary name first and renamed into place. An existing
// file is left untouched unless overwrite is set.
func WriteSecureFile(fs afero.Fs, path string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := fs.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, os.ErrExist)
		}
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", tmpPath, err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s with %s: %w", path, tmpPath, err)
	}
	return nil
}
