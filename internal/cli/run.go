package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlsink/internal/config"
	"github.com/roach88/sqlsink/internal/engine"
	"github.com/roach88/sqlsink/internal/source"
	"github.com/roach88/sqlsink/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Input      string
	URL        string
	BatchSize  int
	QueueSize  int

	// Connector allows overriding the database connector (for testing).
	// If nil, the engine connects through the store package.
	Connector engine.Connector
}

// RunSummary is printed when the run command finishes.
type RunSummary struct {
	Received int64  `json:"received"`
	Database string `json:"database"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("Processed %d message(s) into %s", s.Received, s.Database)
}

// RunFailure is reported when the engine stops on a fatal error. Pending
// messages were taken from the queue but never written; queued messages
// were read from the input but never taken.
type RunFailure struct {
	Received int64  `json:"received"`
	Pending  int64  `json:"pending"`
	Queued   int    `json:"queued"`
	Database string `json:"database"`
	Cause    string `json:"cause"`
}

// Undelivered returns the number of messages read but not written.
func (f RunFailure) Undelivered() int64 {
	return f.Pending + int64(f.Queued)
}

func (f RunFailure) String() string {
	return fmt.Sprintf("sink stopped with %d message(s) not written to %s (%d pending, %d queued)",
		f.Undelivered(), f.Database, f.Pending, f.Queued)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply an operation stream to the configured database",
		Long: `Read NDJSON operations from a file, an S3 object or standard input
and apply them to the database named by the config file.

The command returns once the input is exhausted and every operation has
been written, or exits with a failure when the database stays unreachable
beyond backoff_max. At most --queue-size messages are read ahead of the
database; while it is unreachable the input is not read further.

Example:
  sqlsink run --config sink.yaml --input ops.ndjson
  producer | sqlsink run --config sink.yaml
  sqlsink run --config sink.yaml --input s3://bucket/ops.ndjson --batch-size 500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSink(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (required)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "input: file path, s3://bucket/key or - for stdin")
	cmd.Flags().StringVar(&opts.URL, "url", "", "override the database url from the config file")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "override batch_size from the config file")
	cmd.Flags().IntVar(&opts.QueueSize, "queue-size", engine.DefaultQueueCapacity, "messages read ahead of the database")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runSink(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("url") {
		cfg.URL = config.Secret(opts.URL)
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.QueueSize < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--queue-size must be positive, got %d", opts.QueueSize))
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve config", err)
	}
	if _, _, err := store.ParseURL(engineCfg.URL); err != nil {
		return WrapExitError(ExitCommandError, "invalid database url", err)
	}
	strategy, err := cfg.Backoff()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid backoff", err)
	}
	s3opts, err := cfg.S3Options()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve config", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	input, err := source.Open(ctx, opts.Input, s3opts)
	if err != nil {
		if ferr := formatter.Error(ErrCodeInputFailed, err.Error(), map[string]string{"input": opts.Input}); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer input.Close()

	var engineOpts []engine.Option
	if opts.Connector != nil {
		engineOpts = append(engineOpts, engine.WithConnector(opts.Connector))
	}
	queue := engine.NewQueueSize(opts.QueueSize)
	eng := engine.New(engineCfg, queue, strategy, engineOpts...)

	database := config.RedactURL(engineCfg.URL)
	slog.Info("sink starting", "db", database, "input", opts.Input)

	feedErr := make(chan error, 1)
	go func() {
		_, err := source.Feed(ctx, input, queue)
		feedErr <- err
	}()

	runErr := eng.Run(ctx)

	// At end of stream Feed has closed the queue and is returning. Otherwise
	// it may still be blocked on a read, so it is not waited for.
	if runErr == nil {
		if err := <-feedErr; err != nil {
			if ferr := formatter.Error(ErrCodeInputFailed, err.Error(), map[string]string{"input": opts.Input}); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitFailure, "input failed", err)
		}
	}

	switch {
	case runErr == nil:
	case engine.IsFatal(runErr):
		// Closing the queue releases a Feed blocked on it and fixes the
		// queued count.
		queue.Close()
		failure := RunFailure{
			Received: eng.Received(),
			Pending:  eng.Pending(),
			Queued:   queue.Len(),
			Database: database,
			Cause:    runErr.Error(),
		}
		slog.Error("sink stopped",
			"received", failure.Received,
			"pending", failure.Pending,
			"queued", failure.Queued,
		)
		if err := formatter.Error(ErrCodeFatal, failure.String(), failure); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "sink stopped", runErr)
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		slog.Info("sink stopped by signal")
	default:
		return WrapExitError(ExitFailure, "sink error", runErr)
	}

	return formatter.Success(RunSummary{Received: eng.Received(), Database: database})
}
