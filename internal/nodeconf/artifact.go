package nodeconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// FilePattern is the os.CreateTemp pattern for generated config files.
const FilePattern = "nodestrap-*.conf"

// Artifact is a rendered configuration written to a unique temporary file.
// Close removes the file and is safe to call more than once.
type Artifact struct {
	path string

	once     sync.Once
	closeErr error
}

// Write renders the configuration into a new temporary file in dir
// (the OS temp dir when empty). The file is readable only by its owner.
func Write(dir string) (*Artifact, error) {
	f, err := os.CreateTemp(dir, FilePattern)
	if err != nil {
		return nil, fmt.Errorf("create config file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(Render()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write config file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close config file %s: %w", path, err)
	}

	return &Artifact{path: path}, nil
}

// Path returns the config file location.
func (a *Artifact) Path() string {
	return a.path
}

// Close removes the config file.
func (a *Artifact) Close() error {
	a.once.Do(func() {
		err := os.Remove(a.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.closeErr = fmt.Errorf("remove config file %s: %w", a.path, err)
		}
	})
	return a.closeErr
}
