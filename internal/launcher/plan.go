package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Plan is the resolved invocation, before any file is created.
type Plan struct {
	Binary  string
	DataDir string
	TempDir string // where the config file will be created; "" = OS default
}

// Arguments returns the daemon arguments for a config file at confPath.
func (p *Plan) Arguments(confPath string) []string {
	return []string{
		"-conf=" + confPath,
		"-datadir=" + p.DataDir,
	}
}

// Plan resolves the binary and data directory and checks that the binary
// is an executable regular file. It creates nothing.
func (l *Launcher) Plan() (*Plan, error) {
	root, err := filepath.Abs(l.installRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve install root %s: %v", ErrBinaryNotFound, l.installRoot, err)
	}
	binary := filepath.Join(root, l.config.BinaryPath)
	if filepath.IsAbs(l.config.BinaryPath) {
		binary = filepath.Clean(l.config.BinaryPath)
	}
	if err := checkExecutable(binary); err != nil {
		return nil, err
	}

	dataDir := l.config.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(l.workDir, dataDir)
	}

	return &Plan{
		Binary:  binary,
		DataDir: dataDir,
		TempDir: l.config.TempDir,
	}, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrBinaryNotFound, path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrBinaryNotFound, path)
	}
	return nil
}
