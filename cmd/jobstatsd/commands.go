package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"jobstatsd/internal/job"
	"jobstatsd/internal/meta"
)

// jobFlags describe a job either as a raw resque payload or as its individual fields.
type jobFlags struct {
	payload  string
	class    string
	args     string
	queue    string
	queuedAt string
}

func (f *jobFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.payload, "payload", "", "resque JSON payload of the job")
	flags.StringVar(&f.class, "class", "", "job class, when no payload is given")
	flags.StringVar(&f.args, "args", "", "job arguments as a JSON object, when no payload is given")
	flags.StringVarP(&f.queue, "queue", "q", "", "name of the queue the job was pulled from")
	flags.StringVar(&f.queuedAt, "queued-at", "", "time the job was enqueued (RFC 3339 or unix seconds), when no payload is given")
}

// job assembles the job described by the flags.
func (f *jobFlags) job() (*job.Job, error) {
	if f.payload != "" {
		payload, err := job.DecodePayload([]byte(f.payload))
		if err != nil {
			return nil, err
		}

		return job.NewJob(f.queue, payload), nil
	}

	if f.class == "" {
		return nil, errors.New("main: one of --payload or --class is required")
	}

	args, err := job.DecodeArgs([]byte(f.args))
	if err != nil {
		return nil, err
	}

	payload := job.Payload{Class: f.class, Args: args}
	if f.queuedAt != "" {
		if payload.QueueTime, err = parseTime(f.queuedAt); err != nil {
			return nil, err
		}
	}

	return job.NewJob(f.queue, payload), nil
}

// parseTime accepts either an RFC 3339 timestamp or fractional unix seconds.
func parseTime(value string) (time.Time, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return job.UnixSeconds(seconds), nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("main: invalid time: value=%s err=%v", value, err)
	}

	return parsed, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the compiled jobstatsd version SHA",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jobstatsd/%s\n", meta.VersionSHA)
		},
	}
}

func enqueueCommand(opts *options) *cobra.Command {
	var class, rawArgs, queue string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Report that a job was pushed to a queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.flush()

			args, err := job.DecodeArgs([]byte(rawArgs))
			if err != nil {
				return err
			}

			a.hook.AfterEnqueue(class, args, queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "job class")
	cmd.Flags().StringVar(&rawArgs, "args", "", "job arguments as a JSON object")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "queue the job was pushed to")
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

func scheduleCommand(opts *options) *cobra.Command {
	var class, rawArgs, queue, at string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Report that a job was scheduled for future execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.flush()

			args, err := job.DecodeArgs([]byte(rawArgs))
			if err != nil {
				return err
			}

			when, err := parseTime(at)
			if err != nil {
				return err
			}

			a.hook.AfterSchedule(when, queue, class, args)
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "job class")
	cmd.Flags().StringVar(&rawArgs, "args", "", "job arguments as a JSON object")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "queue the job will be pushed to")
	cmd.Flags().StringVar(&at, "at", "", "time the job is scheduled for (RFC 3339 or unix seconds)")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func runCommand(opts *options) *cobra.Command {
	jf := &jobFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command as a job, reporting queue time, processing time, and outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a := setupOrNoop(cmd, opts)
			defer a.flush()

			// An undecodable job is still run; the hooks skip jobs without a class.
			j, err := jf.job()
			if err != nil {
				a.logger.Warn("main: reporting job without identity: err=%v", err)
				j = job.NewJob(jf.queue, job.Payload{})
			}

			a.hook.BeforeFork(j)

			child := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()

			if err := child.Run(); err != nil {
				a.hook.OnFailure(err, j)
				a.logger.Info("main: job failed: class=%s err=%v", j.Payload.Class, err)

				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
					return &exitCodeError{code: exitErr.ExitCode()}
				}
				return err
			}

			a.hook.AfterPerform(j)
			return nil
		},
	}

	jf.register(cmd.Flags())

	return cmd
}

func failCommand(opts *options) *cobra.Command {
	jf := &jobFlags{}
	var reason string

	cmd := &cobra.Command{
		Use:   "fail",
		Short: "Report that a job failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.flush()

			j, err := jf.job()
			if err != nil {
				return err
			}

			a.hook.OnFailure(errors.New(reason), j)
			return nil
		},
	}

	jf.register(cmd.Flags())
	cmd.Flags().StringVar(&reason, "error", "job failed", "failure description")

	return cmd
}
