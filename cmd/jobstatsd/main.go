package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobstatsd/internal/log"
	"jobstatsd/internal/meta"
	"jobstatsd/internal/metrics"
	"jobstatsd/internal/report"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	verbosity  string
	logFormat  string
	host       string
	port       int
	prefix     string
}

// app is the fully wired hook along with its logger and error reporter, built once per
// invocation.
type app struct {
	hook     metrics.JobHook
	logger   log.Logger
	reporter report.Reporter
}

// exitCodeError carries the exit status of a wrapped child process.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()

	var exitErr *exitCodeError
	switch {
	case errors.As(err, &exitErr):
		os.Exit(exitErr.code)
	case err != nil:
		fmt.Fprintf(os.Stderr, "jobstatsd: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "jobstatsd",
		Short:         "Report job queue lifecycle events to statsd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("JOBSTATSD_CONFIG"), "path to a YAML or TOML configuration file")
	flags.StringVarP(&opts.verbosity, "verbosity", "v", "error", "desired logging verbosity: one of error, warn, info, debug")
	flags.StringVar(&opts.logFormat, "log-format", meta.LogFormatConsole, "log output format: one of console, json")
	flags.StringVar(&opts.host, "host", "", "default statsd host, optionally as host:port")
	flags.IntVar(&opts.port, "port", 0, "default statsd port")
	flags.StringVar(&opts.prefix, "prefix", "", "prefix prepended to every metric name")

	cmd.AddCommand(
		versionCommand(),
		enqueueCommand(opts),
		scheduleCommand(opts),
		runCommand(opts),
		failCommand(opts),
	)

	return cmd
}

// setup reads the configuration and wires the hook. Flags explicitly passed on the command line
// take precedence over the configuration file.
func setup(cmd *cobra.Command, opts *options) (*app, error) {
	flags := cmd.Flags()

	cfg := meta.DefaultConfig()
	if opts.configPath != "" {
		parsed, err := meta.ParseConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}

	verbosity := cfg.Application.LogLevel
	if flags.Changed("verbosity") {
		verbosity = opts.verbosity
	}

	format := cfg.Application.LogFormat
	if flags.Changed("log-format") {
		format = opts.logFormat
	}

	logger, err := newLogger(verbosity, format)
	if err != nil {
		return nil, err
	}
	logger.Debug("main: initialized logger: level=%v format=%s", logger.Level(), format)

	reporter := report.NewNoopReporter()
	if cfg.Application.SentryDSN != "" {
		if reporter, err = report.NewRavenReporter(cfg.Application.SentryDSN, meta.VersionSHA); err != nil {
			return nil, err
		}
	}

	settings := cfg.Settings()
	if flags.Changed("host") {
		settings.Destination.Host = opts.host
	}
	if flags.Changed("port") {
		settings.Destination.Port = opts.port
	}
	if flags.Changed("prefix") {
		settings.Prefix = opts.prefix
	}

	hook := metrics.NewStatsdJobHook(settings, metrics.StatsdJobHookOpts{
		Logger:   logger,
		Reporter: reporter,
	})

	logger.Info(
		"main: configured statsd reporting: dest=%s prefix=%s timeout=%s",
		settings.Destination,
		settings.Prefix,
		settings.Timeout,
	)

	return &app{hook: hook, logger: logger, reporter: reporter}, nil
}

// setupOrNoop is setup for commands that wrap a job: a broken metrics configuration is logged and
// replaced by a noop hook, so that the job itself still runs.
func setupOrNoop(cmd *cobra.Command, opts *options) *app {
	a, err := setup(cmd, opts)
	if err == nil {
		return a
	}

	logger := log.NewWriterLogger(log.Warn, cmd.ErrOrStderr())
	logger.Warn("main: disabling metrics: err=%v", err)

	return &app{
		hook:     metrics.NewNoopJobHook(),
		logger:   logger,
		reporter: report.NewNoopReporter(),
	}
}

// newLogger creates the logging engine for the requested level and format. Unknown levels fall
// back to log.Error.
func newLogger(verbosity string, format string) (log.Logger, error) {
	level, _ := log.ParseLevel(verbosity)

	switch format {
	case meta.LogFormatJSON:
		return log.NewZapLogger(level)
	case meta.LogFormatConsole, "":
		return log.NewConsoleLogger(level), nil
	default:
		return nil, fmt.Errorf("main: unknown log format: format=%s", format)
	}
}

// flush delivers queued error reports and drains buffered log output. It must run before the
// process exits.
func (a *app) flush() {
	a.reporter.Flush()

	if syncer, ok := a.logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}
