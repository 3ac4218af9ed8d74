// Package progress follows the daemon's debug log and reports chain sync
// progress while the launcher waits on the process.
package progress

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nodestrap/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher tails a log file inside a directory that may not contain the
// file yet. It survives truncation and rotation of the file.
type Watcher struct {
	dir      string
	path     string
	interval time.Duration
	log      *zap.Logger

	mu       sync.RWMutex
	tip      Tip
	haveTip  bool
	reported int64 // height of the last logged tip

	file    *os.File
	offset  int64
	partial []byte
}

// NewWatcher creates a watcher for dataDir/logFile that logs a summary at
// most once per interval.
func NewWatcher(dataDir, logFile string, interval time.Duration) *Watcher {
	return &Watcher{
		dir:      dataDir,
		path:     filepath.Join(dataDir, logFile),
		interval: interval,
		log:      logging.Get(logging.CategoryProgress),
		reported: -1,
	}
}

// Latest returns the most recent tip seen, if any.
func (w *Watcher) Latest() (Tip, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tip, w.haveTip
}

// Run watches until ctx ends. It returns nil on cancellation; an error
// means the watch could not be established.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	defer w.closeFile()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	w.log.Debug("watching daemon log", zap.String("path", w.path))

	// The daemon may have written before the watch was in place.
	w.drain()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.report()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.log.Debug("daemon log rotated", zap.String("op", event.Op.String()))
				w.drain()
				w.closeFile()
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.drain()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("log watch error", zap.Error(err))

		case <-ticker.C:
			w.report()
		}
	}
}

// drain reads every complete line appended since the last call.
func (w *Watcher) drain() {
	if w.file == nil {
		f, err := os.Open(w.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.log.Warn("cannot open daemon log", zap.Error(err))
			}
			return
		}
		w.file = f
		w.offset = 0
		w.partial = nil
	}

	info, err := w.file.Stat()
	if err != nil {
		w.log.Warn("cannot stat daemon log", zap.Error(err))
		return
	}
	if info.Size() < w.offset {
		w.log.Debug("daemon log truncated")
		w.offset = 0
		w.partial = nil
	}

	if _, err := w.file.Seek(w.offset, io.SeekStart); err != nil {
		w.log.Warn("cannot seek daemon log", zap.Error(err))
		return
	}

	reader := bufio.NewReader(w.file)
	for {
		chunk, err := reader.ReadBytes('\n')
		w.offset += int64(len(chunk))
		if err != nil {
			// Keep the unterminated tail for the next read.
			w.partial = append(w.partial, chunk...)
			if !errors.Is(err, io.EOF) {
				w.log.Warn("cannot read daemon log", zap.Error(err))
			}
			return
		}
		line := chunk
		if len(w.partial) > 0 {
			line = append(w.partial, chunk...)
			w.partial = nil
		}
		w.observe(string(line))
	}
}

func (w *Watcher) observe(line string) {
	tip, ok := ParseUpdateTip(line)
	if !ok {
		return
	}
	w.mu.Lock()
	w.tip = tip
	w.haveTip = true
	w.mu.Unlock()
}

// report logs the latest tip if it moved since the last report.
func (w *Watcher) report() {
	w.mu.Lock()
	tip, ok := w.tip, w.haveTip
	if !ok || tip.Height == w.reported {
		w.mu.Unlock()
		return
	}
	w.reported = tip.Height
	w.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("height", tip.Height),
		zap.String("progress", formatPercent(tip.Progress)),
	}
	if !tip.BlockTime.IsZero() {
		fields = append(fields, zap.Time("block_time", tip.BlockTime))
	}
	w.log.Info("sync progress", fields...)
}

func (w *Watcher) closeFile() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	w.offset = 0
	w.partial = nil
}
