// Package logging builds the root hclog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/config"
)

// New creates the root logger. When a log file is configured the returned
// closer must be closed on exit.
func New(cfg config.LoggingConfig) (hclog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closer = f
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "filter-runner",
		Level:      level,
		Output:     out,
		JSONFormat: cfg.JSON,
	})
	return logger, closer, nil
}

// OrNull returns l, or a null logger when l is nil
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
