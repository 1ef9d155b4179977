// Package logger owns the process-wide structured loggers: the main
// application log and a separate audit channel for security-relevant events.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig controls the security audit log output.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	global  state
	setup   sync.Once
	initErr error
)

// Init configures the global loggers. The first call wins; later calls
// return the first call's result.
func Init(cfg Config) error {
	setup.Do(func() { initErr = global.configure(cfg) })
	return initErr
}

func (s *state) configure(cfg Config) error {
	sink, err := s.openSinks(cfg.OutputPaths)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: levelFor(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		s.app = slog.New(slog.NewTextHandler(sink, opts))
	} else {
		s.app = slog.New(slog.NewJSONHandler(sink, opts))
	}

	// Without a dedicated audit file, audit entries land in the main log.
	s.audit = s.app
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			return errors.New("audit log path cannot be empty when enabled")
		}
		w, err := newRotateFile(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, w)
		s.audit = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return nil
}

func (s *state) openSinks(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		switch strings.ToLower(p) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", p, err)
			}
			s.closers = append(s.closers, f)
			writers = append(writers, f)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func levelFor(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, self-initialising with defaults so
// library code can log before the daemon has called Init.
func L() *slog.Logger {
	if global.app == nil {
		_ = Init(Config{})
	}
	return global.app
}

// Audit returns the logger for security-relevant events.
func Audit() *slog.Logger {
	if global.audit == nil {
		return L()
	}
	return global.audit
}

// SecurityIncident records a tamper or integrity event on both channels.
// The audit entry carries the full detail; the main log gets a pointer.
func SecurityIncident(event string, args ...any) {
	Audit().Error("security incident", append([]any{slog.String("event", event)}, args...)...)
	L().Error("security incident recorded", slog.String("event", event))
}

// Named returns a child logger grouped under a component name.
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync closes every file-backed output.
func Sync() error {
	var err error
	for _, c := range global.closers {
		err = errors.Join(err, c.Close())
	}
	global.closers = nil
	return err
}
