// nodestrap downloads and prunes Bitcoin chain state by running a
// pre-built bitcoind against a generated, fixed configuration.
//
// Usage:
//
//	nodestrap [flags] <install-root>
//
// The daemon is found at <install-root>/bin/bitcoind and run as
//
//	bitcoind -conf=<temp file> -datadir=<cwd>/data
//
// nodestrap exits with the daemon's own exit status.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodestrap/internal/config"
	"nodestrap/internal/launcher"
	"nodestrap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes for failures that happen before the daemon runs.
const (
	exitFailure = 1
	exitUsage   = 2
)

// errUsage marks command-line misuse other than a missing install root.
var errUsage = errors.New("usage error")

// cliOptions holds flag values for one command tree.
type cliOptions struct {
	configPath      string
	verbose         bool
	dryRun          bool
	noProgress      bool
	maxAttempts     int
	retryDelay      time.Duration
	shutdownTimeout time.Duration

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "nodestrap <install-root>",
		Short: "Download and prune Bitcoin chain state with a pre-built bitcoind",
		Long: `Runs <install-root>/bin/bitcoind with a generated configuration that
prunes block storage to 5000 MiB and sets dummy RPC credentials.

The configuration is written to a unique temporary file that is removed
when nodestrap exits. Chain data goes to ./data.

Launcher settings are read from nodestrap.yaml in the working directory
(or --config) and NODESTRAP_* environment variables.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w\n\nusage: %s", launcher.ErrMissingArgument, cmd.UseLine())
			}
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd, opts, args[0])
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Launcher config file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the invocation plan without creating files or starting the node")
	rootCmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Do not follow the node's debug.log for sync progress")
	rootCmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "Run the node at most this many times while it exits non-zero (default from config: 1)")
	rootCmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", 0, "Delay before the first retry, doubled for each further retry")
	rootCmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 0, "Time the node gets to exit after SIGTERM before it is killed")

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nodestrap version",
		Args:  cobra.NoArgs,
		// The version command needs neither config nor logger.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nodestrap %s\n", version)
		},
	}
}

// setup loads the launcher config, applies flag overrides and installs the
// logger.
func (o *cliOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = o.maxAttempts
	}
	if flags.Changed("retry-delay") {
		cfg.Retry.Delay = o.retryDelay.String()
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = o.shutdownTimeout.String()
	}
	if o.noProgress {
		cfg.Progress.Enabled = false
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", o.configPath, err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Categories: cfg.Logging.Categories,
		OutputPath: cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	logging.Initialize(logger, cfg.Logging.Categories)

	o.cfg = cfg
	return nil
}

// runBootstrap runs the launcher for installRoot.
func runBootstrap(cmd *cobra.Command, opts *cliOptions, installRoot string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Get(logging.CategoryBoot).Info("received shutdown signal, stopping node", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	l, err := launcher.New(launcher.Options{
		InstallRoot: installRoot,
		Config:      opts.cfg,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if opts.dryRun {
		plan, err := l.Plan()
		if err != nil {
			return err
		}
		return renderPlan(cmd.OutOrStdout(), plan)
	}

	report, err := l.Run(ctx)
	if report != nil {
		fields := []zap.Field{
			zap.String("run_id", report.RunID),
			zap.Int("attempts", report.Attempts),
			zap.Int("exit_code", report.ExitCode),
			zap.Bool("interrupted", report.Interrupted),
			zap.Duration("duration", report.Duration),
		}
		if report.Tip != nil {
			fields = append(fields, zap.Int64("tip_height", report.Tip.Height))
		}
		logging.Get(logging.CategoryBoot).Info("bootstrap finished", fields...)
	}
	return err
}

// exitCode maps a command error to the process exit status. Daemon
// failures keep the daemon's own code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *launcher.ProcessExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	if errors.Is(err, launcher.ErrMissingArgument) || errors.Is(err, errUsage) {
		return exitUsage
	}
	return exitFailure
}

// execute runs the command tree and reports errors on stderr.
func execute(cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		var exitErr *launcher.ProcessExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
	}
	return exitCode(err)
}

func main() {
	os.Exit(execute(newRootCmd(), os.Args[1:], os.Stderr))
}
