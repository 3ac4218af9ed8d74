// Package launcher runs the node bootstrap sequence: resolve the daemon
// binary under an install root, prepare the data directory, write the
// fixed node config to a temporary file, run the daemon against it and
// remove the file again, whatever the outcome.
//
// The sequence is strictly linear. Any failure before the daemon starts
// aborts the run; a daemon that exits non-zero is optionally re-invoked a
// bounded number of times.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"nodestrap/internal/config"
	"nodestrap/internal/logging"
	"nodestrap/internal/nodeconf"
	"nodestrap/internal/progress"
	"nodestrap/internal/tactile"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Launcher.
type Options struct {
	// InstallRoot contains the daemon binary at Config.BinaryPath.
	InstallRoot string

	// WorkDir anchors a relative data dir. Defaults to the current
	// working directory.
	WorkDir string

	// Config defaults to config.DefaultConfig().
	Config *config.Config

	// Executor defaults to a tactile.DirectExecutor using the configured
	// shutdown timeout.
	Executor tactile.Executor

	// Stdout and Stderr receive the daemon's output.
	Stdout io.Writer
	Stderr io.Writer
}

// Launcher performs one bootstrap run.
type Launcher struct {
	installRoot string
	workDir     string
	config      *config.Config
	executor    tactile.Executor
	stdout      io.Writer
	stderr      io.Writer

	runID string
	log   *zap.Logger
}

// Report summarizes a run that reached the daemon.
type Report struct {
	RunID      string
	Binary     string
	ConfigPath string // removed by the time Run returns
	DataDir    string

	Attempts    int
	ExitCode    int
	Interrupted bool // the run context ended while the daemon was running
	Duration    time.Duration

	// Tip is the last chain tip the progress watcher saw, if any.
	Tip *progress.Tip
}

// New validates opts and returns a Launcher.
func New(opts Options) (*Launcher, error) {
	if opts.InstallRoot == "" {
		return nil, ErrMissingArgument
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: determine working directory: %v", ErrSystemResource, err)
		}
		workDir = wd
	}

	executor := opts.Executor
	if executor == nil {
		executor = tactile.NewDirectExecutorWithConfig(tactile.ExecutorConfig{
			ShutdownTimeout: cfg.GetShutdownTimeout(),
		})
	}

	runID := uuid.NewString()
	l := &Launcher{
		installRoot: opts.InstallRoot,
		workDir:     workDir,
		config:      cfg,
		executor:    executor,
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
		runID:       runID,
		log:         logging.Get(logging.CategoryLaunch).With(zap.String("run_id", runID)),
	}

	if audited, ok := executor.(tactile.AuditedExecutor); ok {
		audited.SetAuditCallback(l.onProcessEvent)
	}

	return l, nil
}

// RunID identifies this launcher's run in logs.
func (l *Launcher) RunID() string {
	return l.runID
}

// Run executes the bootstrap sequence and blocks until the daemon exits
// for the last time. Errors wrap ErrBinaryNotFound, ErrSystemResource or,
// via *ProcessExitError, ErrExternalProcess. A non-nil Report is returned
// whenever the config file was written.
func (l *Launcher) Run(ctx context.Context) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryLaunch, "bootstrap run")
	defer timer.StopWithInfo()

	plan, err := l.Plan()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(plan.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir %s: %v", ErrSystemResource, plan.DataDir, err)
	}

	artifact, err := nodeconf.Write(plan.TempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSystemResource, err)
	}
	defer func() {
		if err := artifact.Close(); err != nil {
			l.log.Warn("failed to remove node config", zap.Error(err))
		}
	}()

	report := &Report{
		RunID:      l.runID,
		Binary:     plan.Binary,
		ConfigPath: artifact.Path(),
		DataDir:    plan.DataDir,
	}
	started := time.Now()
	defer func() { report.Duration = time.Since(started) }()

	l.log.Info("launching node",
		zap.String("binary", plan.Binary),
		zap.String("conf", artifact.Path()),
		zap.String("datadir", plan.DataDir))

	cmd := tactile.Command{
		Binary:           plan.Binary,
		Arguments:        plan.Arguments(artifact.Path()),
		WorkingDirectory: l.workDir,
		Stdout:           l.stdout,
		Stderr:           l.stderr,
	}

	maxAttempts := l.config.Retry.MaxAttempts
	maxDelay := l.config.Retry.GetMaxDelay()
	delay := min(l.config.Retry.GetDelay(), maxDelay)

	for attempt := 1; ; attempt++ {
		report.Attempts = attempt
		cmd.RequestID = fmt.Sprintf("%s/%d", l.runID, attempt)

		result, tip, err := l.invoke(ctx, plan, cmd)
		if tip != nil {
			report.Tip = tip
		}
		if err != nil {
			return report, fmt.Errorf("%w: %w", ErrBinaryNotFound, err)
		}

		report.ExitCode = result.ExitCode
		report.Interrupted = result.Killed || ctx.Err() != nil
		if result.Succeeded() {
			return report, nil
		}

		exitErr := &ProcessExitError{Code: result.ExitCode, Signal: result.Signal, Attempts: attempt}
		if report.Interrupted {
			l.log.Info("node stopped after interruption", zap.Int("exit_code", result.ExitCode))
			return report, exitErr
		}
		if attempt >= maxAttempts {
			return report, exitErr
		}

		l.log.Warn("node exited with failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("delay", delay))

		if err := sleepContext(ctx, delay); err != nil {
			report.Interrupted = true
			return report, exitErr
		}
		delay = min(delay*2, maxDelay)
	}
}

// invoke runs the daemon once, with the progress watcher alongside it when
// enabled. The watcher never affects the daemon or the result.
func (l *Launcher) invoke(ctx context.Context, plan *Plan, cmd tactile.Command) (*tactile.ExecutionResult, *progress.Tip, error) {
	if !l.config.Progress.Enabled {
		result, err := l.executor.Run(ctx, cmd)
		return result, nil, err
	}

	watcher := progress.NewWatcher(plan.DataDir, l.config.Progress.LogFile, l.config.Progress.GetInterval())
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var result *tactile.ExecutionResult
	g, gctx := errgroup.WithContext(watchCtx)
	g.Go(func() error {
		defer stopWatch()
		var err error
		result, err = l.executor.Run(ctx, cmd)
		return err
	})
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			l.log.Warn("progress watcher unavailable", zap.Error(err))
		}
		return nil
	})
	err := g.Wait()

	var tip *progress.Tip
	if t, ok := watcher.Latest(); ok {
		tip = &t
	}
	return result, tip, err
}

func (l *Launcher) onProcessEvent(event tactile.AuditEvent) {
	switch event.Type {
	case tactile.AuditEventStart:
		l.log.Info("node started", zap.Int("pid", event.Pid), zap.String("request_id", event.Command.RequestID))
	case tactile.AuditEventExit, tactile.AuditEventKilled:
		l.log.Info("node exited",
			zap.Int("pid", event.Pid),
			zap.String("request_id", event.Command.RequestID),
			zap.Int("exit_code", event.Result.ExitCode),
			zap.Bool("killed", event.Result.Killed),
			zap.Duration("duration", event.Result.Duration))
	case tactile.AuditEventError:
		l.log.Error("node could not be run", zap.String("request_id", event.Command.RequestID), zap.Error(event.Error))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
