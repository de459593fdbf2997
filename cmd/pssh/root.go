package main

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/andrej220/pssh/pkg/config"
	"github.com/andrej220/pssh/pkg/executor"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type app struct {
	provider executor.SessionProvider
	fs       afero.Fs
	stdout   io.Writer
	stderr   io.Writer

	flags flags
}

type flags struct {
	hosts    string
	port     int
	username string
	password string
	timeout  time.Duration
	toml     string
	section  string

	numThreads int
	stable     bool
	maxOutput  int64
	noColor    bool

	report          string
	kafkaBrokers    []string
	kafkaTopic      string
	mongoURI        string
	mongoDB         string
	mongoCollection string

	debug     bool
	logFormat string
}

func newRootCmd(a *app) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "pssh -c COMMAND",
		Short: "Run a command on many hosts over SSH in parallel",
		Long: `pssh runs one command, or uploads one file, on every given host at once
and prints one result per host.

Hosts come either from flags or from a section of a TOML file:

  pssh -h "10.0.0.1,10.0.0.2" -u deploy -p secret -c uptime
  pssh -t hosts.toml -s staging --num-threads 8 --stable -c "df -h"
  pssh send -t hosts.toml -s staging --local app.tar --remote /tmp/app.tar`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if command == "" {
				return errors.New("a command is required: use -c")
			}
			return a.execute(cmd, models.NewRunCommand(command))
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	// --num_threads and --num-threads name the same flag.
	cmd.SetGlobalNormalizationFunc(dashedFlags)

	pf := cmd.PersistentFlags()
	// -h belongs to --hosts.
	pf.Bool("help", false, "help for pssh")
	pf.StringVarP(&a.flags.toml, "toml", "t", "", "TOML file with host sections")
	pf.StringVarP(&a.flags.section, "section", "s", "", "section of the TOML file to use (default: top level)")
	pf.StringVarP(&a.flags.hosts, "hosts", "h", "", "hosts separated by commas, semicolons or spaces")
	pf.IntVarP(&a.flags.port, "port", "P", config.DefaultPort, "SSH port")
	pf.StringVarP(&a.flags.username, "username", "u", config.DefaultUsername, "SSH username")
	pf.StringVarP(&a.flags.password, "password", "p", "", "SSH password")
	pf.DurationVar(&a.flags.timeout, "timeout", config.DefaultTimeout, "connect and authentication timeout per host")

	pf.IntVar(&a.flags.numThreads, "num-threads", 1, "number of hosts handled at once")
	pf.BoolVar(&a.flags.stable, "stable", false, "print results in host order instead of as they finish")
	pf.Int64Var(&a.flags.maxOutput, "max-output", executor.DefaultMaxOutput, "bytes kept per output stream")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable coloured output")

	pf.StringVar(&a.flags.report, "report", "", "write a JSON report of the run to this file")
	pf.StringSliceVar(&a.flags.kafkaBrokers, "kafka-brokers", nil, "publish results to these Kafka brokers")
	pf.StringVar(&a.flags.kafkaTopic, "kafka-topic", "pssh-results", "Kafka topic for results")
	pf.StringVar(&a.flags.mongoURI, "mongo-uri", "", "store results in MongoDB at this URI")
	pf.StringVar(&a.flags.mongoDB, "mongo-db", "pssh", "MongoDB database")
	pf.StringVar(&a.flags.mongoCollection, "mongo-collection", "results", "MongoDB collection")

	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")
	pf.StringVar(&a.flags.logFormat, "log-format", "console", "log format: console or json")

	cmd.Flags().StringVarP(&command, "command", "c", "", "command to run on every host")

	cmd.AddCommand(newSendCmd(a), newInitCmd(a), newVersionCmd())
	return cmd
}

func dashedFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// hostOptions passes on only the host flags the user actually set, so
// that config.Resolve can tell flag hosts from TOML hosts.
func (a *app) hostOptions(cmd *cobra.Command) config.Options {
	f := cmd.Flags()
	opts := config.Options{
		Timeout: a.flags.timeout,
		TOML:    a.flags.toml,
		Fs:      a.fs,
	}
	if f.Changed("hosts") {
		opts.Hosts = []string{a.flags.hosts}
	}
	if f.Changed("username") {
		opts.Username = &a.flags.username
	}
	if f.Changed("password") {
		opts.Password = &a.flags.password
	}
	if f.Changed("port") {
		opts.Port = &a.flags.port
	}
	if f.Changed("section") {
		opts.Section = &a.flags.section
	}
	return opts
}

func newSendCmd(a *app) *cobra.Command {
	var local, remote string
	cmd := &cobra.Command{
		Use:   "send --local FILE --remote PATH",
		Short: "Upload one local file to every host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, models.NewSendFile(local, remote))
		},
	}
	cmd.Flags().StringVarP(&local, "local", "l", "", "local file to upload")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "destination path on each host")
	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")
	return cmd
}

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a starter TOML host file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "pssh.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(a.fs, path, force); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("pssh %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Built: %s\n", buildTime)
		},
	}
}
