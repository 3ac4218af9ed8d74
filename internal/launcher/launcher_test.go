package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"nodestrap/internal/config"
	"nodestrap/internal/nodeconf"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixture is an install root with a fake bitcoind, a working directory
// and a private temp dir for the generated config.
type fixture struct {
	root    string
	workDir string
	tempDir string
	outDir  string
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake daemon is a /bin/sh script")
	}

	f := &fixture{
		root:    t.TempDir(),
		workDir: t.TempDir(),
		tempDir: t.TempDir(),
		outDir:  t.TempDir(),
		cfg:     config.DefaultConfig(),
	}
	f.cfg.TempDir = f.tempDir
	f.cfg.Progress.Enabled = false
	f.cfg.Retry.Delay = "10ms"
	f.cfg.ShutdownTimeout = "5s"
	return f
}

// installDaemon writes bin/bitcoind. The script records its arguments,
// a copy of the config it was given and a per-run invocation count, then
// runs body.
func (f *fixture) installDaemon(t *testing.T, body string) {
	t.Helper()
	script := fmt.Sprintf(`#!/bin/sh
out=%q
printf '%%s\n' "$@" > "$out/args"
conf="${1#-conf=}"
cp "$conf" "$out/conf"
echo "$conf" >> "$out/conf-paths"
n=$(cat "$out/count" 2>/dev/null || echo 0)
n=$((n + 1))
echo "$n" > "$out/count"
%s
`, f.outDir, body)

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "bin", "bitcoind"), []byte(script), 0755))
}

func (f *fixture) launcher(t *testing.T) *Launcher {
	t.Helper()
	l, err := New(Options{
		InstallRoot: f.root,
		WorkDir:     f.workDir,
		Config:      f.cfg,
		Stdout:      io.Discard,
		Stderr:      io.Discard,
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.outDir, name))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) invocations(t *testing.T) int {
	t.Helper()
	var n int
	_, err := fmt.Sscanf(f.read(t, "count"), "%d", &n)
	require.NoError(t, err)
	return n
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected %s to be empty", dir)
}

func TestNew_MissingInstallRoot(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.MaxAttempts = 0

	_, err := New(Options{InstallRoot: "/opt/node", Config: cfg})
	assert.Error(t, err)
}

func TestRun_InvokesDaemonWithGeneratedConfig(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")

	report, err := f.launcher(t).Run(context.Background())
	require.NoError(t, err)

	dataDir := filepath.Join(f.workDir, "data")
	wantArgs := fmt.Sprintf("-conf=%s\n-datadir=%s\n", report.ConfigPath, dataDir)
	assert.Equal(t, wantArgs, f.read(t, "args"))

	if diff := cmp.Diff(string(nodeconf.Render()), f.read(t, "conf")); diff != "" {
		t.Errorf("daemon saw unexpected config (-want +got):\n%s", diff)
	}

	assert.Equal(t, filepath.Join(f.root, "bin", "bitcoind"), report.Binary)
	assert.Equal(t, dataDir, report.DataDir)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 0, report.ExitCode)
	assert.False(t, report.Interrupted)
	assert.DirExists(t, dataDir)
	assert.Equal(t, f.tempDir, filepath.Dir(report.ConfigPath))
}

func TestRun_RemovesConfigOnEveryPath(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.installDaemon(t, "exit 0")

		_, err := f.launcher(t).Run(context.Background())
		require.NoError(t, err)
		assertDirEmpty(t, f.tempDir)
	})

	t.Run("daemon failure", func(t *testing.T) {
		f := newFixture(t)
		f.installDaemon(t, "exit 4")

		_, err := f.launcher(t).Run(context.Background())
		require.Error(t, err)
		assertDirEmpty(t, f.tempDir)
	})

	t.Run("cancellation", func(t *testing.T) {
		f := newFixture(t)
		f.installDaemon(t, "exec sleep 30")

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(300*time.Millisecond, cancel)

		_, err := f.launcher(t).Run(ctx)
		require.Error(t, err)
		assertDirEmpty(t, f.tempDir)
	})
}

func TestRun_ConfigPathUniquePerRun(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")

	first, err := f.launcher(t).Run(context.Background())
	require.NoError(t, err)
	second, err := f.launcher(t).Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ConfigPath, second.ConfigPath)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_BinaryNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	assertDirEmpty(t, f.tempDir)
	assert.NoDirExists(t, filepath.Join(f.workDir, "data"))
}

func TestRun_NonexistentInstallRoot(t *testing.T) {
	f := newFixture(t)

	l, err := New(Options{
		InstallRoot: "/nonexistent",
		WorkDir:     f.workDir,
		Config:      f.cfg,
	})
	require.NoError(t, err)

	_, err = l.Run(context.Background())
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assertDirEmpty(t, f.tempDir)
}

func TestRun_BinaryNotExecutable(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")
	require.NoError(t, os.Chmod(filepath.Join(f.root, "bin", "bitcoind"), 0644))

	_, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Contains(t, err.Error(), "not executable")
	assertDirEmpty(t, f.tempDir)
}

func TestRun_BinaryIsDirectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "bin", "bitcoind"), 0755))

	_, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestRun_BinaryFailsToStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "bin"), 0755))
	// Executable bit set, but not a valid program or script.
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "bin", "bitcoind"), []byte{0x7f, 'E', 'L', 'F', 0, 0}, 0755))

	report, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	require.NotNil(t, report)
	assertDirEmpty(t, f.tempDir)
}

func TestRun_DataDirCreationFails(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")
	// A regular file where the data dir's parent should be.
	blocker := filepath.Join(f.workDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	f.cfg.DataDir = filepath.Join(blocker, "data")

	_, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrSystemResource)
	assertDirEmpty(t, f.tempDir)
	assert.NoFileExists(t, filepath.Join(f.outDir, "args"), "daemon must not run")
}

func TestRun_TempFileCreationFails(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")
	f.cfg.TempDir = filepath.Join(f.tempDir, "missing")

	_, err := f.launcher(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrSystemResource)
	assert.NoFileExists(t, filepath.Join(f.outDir, "args"), "daemon must not run")
}

func TestRun_ExitStatusPropagated(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 42")

	report, err := f.launcher(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalProcess)

	var exitErr *ProcessExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 42, exitErr.Code)
	assert.Equal(t, 1, exitErr.Attempts)
	assert.Equal(t, 42, report.ExitCode)
	assert.Equal(t, 1, f.invocations(t), "a single attempt by default")
}

func TestRun_RetriesUpToMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxAttempts = 3
	f.installDaemon(t, "exit 1")

	report, err := f.launcher(t).Run(context.Background())

	var exitErr *ProcessExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, 3, exitErr.Attempts)
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 3, f.invocations(t))

	// Every attempt reuses the same config file.
	paths := strings.Fields(f.read(t, "conf-paths"))
	require.Len(t, paths, 3)
	assert.Equal(t, paths[0], paths[1])
	assert.Equal(t, paths[0], paths[2])
	assertDirEmpty(t, f.tempDir)
}

func TestRun_RetryStopsOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxAttempts = 5
	f.installDaemon(t, `[ "$n" -ge 2 ] && exit 0
exit 9`)

	report, err := f.launcher(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 0, report.ExitCode)
	assert.Equal(t, 2, f.invocations(t))
}

func TestRun_CancellationIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxAttempts = 3
	f.installDaemon(t, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	report, err := f.launcher(t).Run(ctx)

	var exitErr *ProcessExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "terminated", exitErr.Signal)
	assert.Equal(t, 143, report.ExitCode)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 1, f.invocations(t))
}

func TestRun_GracefulShutdownOnCancelSucceeds(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, `trap 'exit 0' TERM
while true; do sleep 0.1; done`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	report, err := f.launcher(t).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 0, report.ExitCode)
}

func TestRun_CancelKillsDaemonIgnoringSIGTERM(t *testing.T) {
	f := newFixture(t)
	f.cfg.ShutdownTimeout = "300ms"
	f.installDaemon(t, `trap '' TERM
while true; do sleep 0.1; done`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	report, err := f.launcher(t).Run(ctx)

	var exitErr *ProcessExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "killed", exitErr.Signal)
	assert.Equal(t, 137, report.ExitCode)
	assert.True(t, report.Interrupted)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertDirEmpty(t, f.tempDir)
}

func TestNew_RejectsNonPositiveShutdownTimeout(t *testing.T) {
	for _, timeout := range []string{"0s", "-1s"} {
		cfg := config.DefaultConfig()
		cfg.ShutdownTimeout = timeout

		_, err := New(Options{InstallRoot: "/opt/node", Config: cfg})
		assert.Error(t, err, timeout)
	}
}

func TestRun_FirstRetryDelayIsCapped(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxAttempts = 2
	f.cfg.Retry.MaxDelay = "10ms"
	f.installDaemon(t, "exit 1")
	l := f.launcher(t)
	// Bypass Validate to check the cap itself.
	l.config.Retry.Delay = "1h"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := l.Run(ctx)
	assert.ErrorIs(t, err, ErrExternalProcess)
	assert.False(t, report.Interrupted)
	assert.Equal(t, 2, f.invocations(t))
}

func TestRun_CancelDuringRetryDelay(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxAttempts = 3
	f.cfg.Retry.Delay = "1h"
	f.cfg.Retry.MaxDelay = "1h"
	f.installDaemon(t, "exit 1")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	report, err := f.launcher(t).Run(ctx)
	assert.ErrorIs(t, err, ErrExternalProcess)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, f.invocations(t))
}

func TestRun_ProgressWatcherReportsTip(t *testing.T) {
	f := newFixture(t)
	f.cfg.Progress.Enabled = true
	f.cfg.Progress.Interval = "50ms"
	f.installDaemon(t, `datadir="${2#-datadir=}"
echo "2024-05-01T10:00:00Z UpdateTip: new best=aa height=1234 progress=0.5" >> "$datadir/debug.log"
sleep 0.3
exit 0`)

	report, err := f.launcher(t).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Tip)
	assert.Equal(t, int64(1234), report.Tip.Height)
	assert.InDelta(t, 0.5, report.Tip.Progress, 1e-9)
}

func TestPlan_CreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")

	plan, err := f.launcher(t).Plan()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.root, "bin", "bitcoind"), plan.Binary)
	assert.Equal(t, filepath.Join(f.workDir, "data"), plan.DataDir)
	assert.Equal(t, []string{"-conf=/tmp/x.conf", "-datadir=" + plan.DataDir}, plan.Arguments("/tmp/x.conf"))
	assert.NoDirExists(t, plan.DataDir)
	assertDirEmpty(t, f.tempDir)
}

func TestPlan_AbsoluteDataDir(t *testing.T) {
	f := newFixture(t)
	f.installDaemon(t, "exit 0")
	abs := filepath.Join(t.TempDir(), "chain")
	f.cfg.DataDir = abs

	plan, err := f.launcher(t).Plan()
	require.NoError(t, err)
	assert.Equal(t, abs, plan.DataDir)
}

func TestProcessExitError_Message(t *testing.T) {
	assert.Equal(t, "node process exited with status 3 after 2 attempt(s)",
		(&ProcessExitError{Code: 3, Attempts: 2}).Error())
	assert.Equal(t, "node process terminated by signal terminated after 1 attempt(s)",
		(&ProcessExitError{Code: 143, Signal: "terminated", Attempts: 1}).Error())
}
