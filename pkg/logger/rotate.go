package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 30
)

// rotateFile appends to one file and, when it would exceed the size limit,
// shifts it into a numbered backup chain (file.1 newest). Backups past the
// count or age limits are removed during rotation.
type rotateFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	maxAge  time.Duration
	current *os.File
	written int64
}

func newRotateFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotateFile, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotateFile{
		path:   path,
		limit:  int64(maxSizeMB) << 20,
		keep:   maxBackups,
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (r *rotateFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.written+int64(len(p)) > r.limit {
		r.shift()
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.current.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *rotateFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	r.written = 0
	return err
}

func (r *rotateFile) open() error {
	if r.current != nil {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	r.current = f
	r.written = info.Size()
	return nil
}

// shift renames the active file to .1 after pushing existing backups down
// the chain. Rename failures lose a backup, never the active log.
func (r *rotateFile) shift() {
	if r.current != nil {
		_ = r.current.Close()
		r.current = nil
	}
	r.written = 0

	cutoff := time.Now().Add(-r.maxAge)
	for i := r.keep; i >= 1; i-- {
		backup := r.backupName(i)
		info, err := os.Stat(backup)
		if err != nil {
			continue
		}
		if i == r.keep || info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
			continue
		}
		_ = os.Rename(backup, r.backupName(i+1))
	}
	_ = os.Rename(r.path, r.backupName(1))
}

func (r *rotateFile) backupName(i int) string {
	return fmt.Sprintf("%s.%d", r.path, i)
}
