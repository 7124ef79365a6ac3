package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type rollingOptions struct {
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

func (o rollingOptions) withDefaults() rollingOptions {
	if o.maxSizeMB <= 0 {
		o.maxSizeMB = 100
	}
	if o.maxBackups <= 0 {
		o.maxBackups = 7
	}
	if o.maxAgeDays <= 0 {
		o.maxAgeDays = 30
	}
	return o
}

// rollingFile is an append-only file that is renamed to path.1, path.2, ...
// once it grows past the configured size.
type rollingFile struct {
	mu      sync.Mutex
	path    string
	opts    rollingOptions
	limit   int64
	file    *os.File
	written int64
	now     func() time.Time
}

func newRollingFile(path string, opts rollingOptions) (*rollingFile, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	opts = opts.withDefaults()
	return &rollingFile{
		path:  path,
		opts:  opts,
		limit: int64(opts.maxSizeMB) << 20,
		now:   time.Now,
	}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.limit > 0 && r.written+int64(len(p)) > r.limit {
		r.roll()
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *rollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFile()
}

func (r *rollingFile) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.written = 0
	return err
}

func (r *rollingFile) open() error {
	if r.file != nil {
		return nil
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	r.file = file
	r.written = info.Size()
	return nil
}

func (r *rollingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", r.path, i)
}

// roll shifts existing backups up by one and moves the live file to .1.
func (r *rollingFile) roll() {
	_ = r.closeFile()
	for i := r.opts.maxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(r.backup(i)); err == nil {
			_ = os.Rename(r.backup(i), r.backup(i+1))
		}
	}
	if _, err := os.Stat(r.path); err == nil {
		_ = os.Rename(r.path, r.backup(1))
	}
	r.prune()
}

func (r *rollingFile) prune() {
	cutoff := r.now().Add(-time.Duration(r.opts.maxAgeDays) * 24 * time.Hour)
	for i := 1; i <= r.opts.maxBackups+1; i++ {
		info, err := os.Stat(r.backup(i))
		if err != nil {
			continue
		}
		if i > r.opts.maxBackups || info.ModTime().Before(cutoff) {
			_ = os.Remove(r.backup(i))
		}
	}
}
