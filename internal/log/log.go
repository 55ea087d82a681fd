// Package log holds the wallet's zerolog loggers. Each subsystem logs
// through its own component logger; Init rebuilds all of them.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
)

const (
	consoleTimeFormat = "15:04:05"

	rotateSizeKB = 10 * 1024
	rotateKeep   = 3
)

// Logger is the root logger.
var Logger zerolog.Logger

// Component loggers.
var (
	Wallet   zerolog.Logger
	Slate    zerolog.Logger
	Relay    zerolog.Logger
	Listener zerolog.Logger
	P2P      zerolog.Logger
)

var components = map[string]*zerolog.Logger{
	"wallet":   &Wallet,
	"slate":    &Slate,
	"relay":    &Relay,
	"listener": &Listener,
	"p2p":      &P2P,
}

// file is the open rotating log, if any.
var file struct {
	rot  *rotator.Rotator
	pipe *io.PipeWriter
}

func init() {
	SetOutput(NewConsoleLogger(os.Stdout, "info"))
}

// Init configures the root logger. Console output is colored unless
// jsonOutput is set. A non-empty path adds a size-rotated JSON log file.
func Init(level string, jsonOutput bool, path string) error {
	var console io.Writer = os.Stdout
	if !jsonOutput {
		console = consoleWriter(os.Stdout)
	}
	out := console
	if path != "" {
		if err := Close(); err != nil {
			return err
		}
		fw, err := openRotated(path)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(console, fw)
	}
	SetOutput(build(out, level))
	return nil
}

// openRotated feeds a logrotate rotator through a pipe.
func openRotated(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rot, err := rotator.New(path, rotateSizeKB, false, rotateKeep)
	if err != nil {
		return nil, fmt.Errorf("open log rotator: %w", err)
	}
	pr, pw := io.Pipe()
	go func() {
		if err := rot.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n", err)
		}
	}()
	file.rot, file.pipe = rot, pw
	return pw, nil
}

// Close flushes and closes the log file. Logging continues on the console
// at the current level.
func Close() error {
	if file.rot == nil {
		return nil
	}
	SetOutput(NewConsoleLogger(os.Stdout, Logger.GetLevel().String()))
	file.pipe.Close()
	err := file.rot.Close()
	file.rot, file.pipe = nil, nil
	return err
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

func build(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewConsoleLogger returns a colored human-readable logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return build(consoleWriter(w), level)
}

// NewJSONLogger returns a logger writing one JSON object per line.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return build(w, level)
}

// parseLevel falls back to info for unknown or empty names.
func parseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithComponent derives a logger tagged with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetOutput replaces the root logger and every component logger.
func SetOutput(l zerolog.Logger) {
	Logger = l
	for name, c := range components {
		*c = WithComponent(name)
	}
}
