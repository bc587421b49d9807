// Package logging builds the zerolog logger every component receives.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"salonbook/internal/config"

	"github.com/rs/zerolog"
)

// New constructs a logger from the logging section. Output is one of stdout
// (default), stderr, file or both (stdout and file). The returned closer is
// nil unless a file was opened.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}
	console := strings.ToLower(strings.TrimSpace(cfg.Format)) == "console"

	var (
		writers []io.Writer
		closer  io.Closer
	)
	switch output := strings.ToLower(strings.TrimSpace(cfg.Output)); output {
	case "", "stdout":
		writers = append(writers, format(os.Stdout, console))
	case "stderr":
		writers = append(writers, format(os.Stderr, console))
	case "file", "both":
		file, err := openFile(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		closer = file
		// files always get JSON
		writers = append(writers, file)
		if output == "both" {
			writers = append(writers, format(os.Stdout, console))
		}
	default:
		return nil, nil, fmt.Errorf("unknown logging.output %q", cfg.Output)
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	env := app.Environment
	if env == "" {
		env = "development"
	}
	base := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", env).
		Str("version", app.Version).
		Logger()

	return &base, closer, nil
}

func format(w io.Writer, console bool) io.Writer {
	if console {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("logging.output=file requires logging.file_path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// Component returns a child logger tagged with the component name.
func Component(logger *zerolog.Logger, name string) *zerolog.Logger {
	l := logger.With().Str("component", name).Logger()
	return &l
}
