// Package logging configures the process-wide zerolog logger.
//
// Watch mode owns the terminal, so structured logs go to a file by default.
// Verbose mode mirrors them to stderr through a console writer.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fakeyudi/testwatch/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup points log.Logger at the configured log file and returns the file so
// the caller can close it on exit.
func Setup(cfg config.Config, verbose bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	path := cfg.LogFile
	if path == "" {
		path = config.DefaultLogFile()
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if path != "-" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if verbose {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		if level > zerolog.DebugLevel {
			level = zerolog.DebugLevel
		}
	}
	if len(writers) == 0 {
		log.Logger = zerolog.Nop()
		return closer, nil
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return closer, nil
}
