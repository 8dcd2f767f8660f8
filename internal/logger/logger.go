// Package logger is the process-wide structured logger used by joincheck.
//
// It wraps log/slog with a console handler for interactive use and a JSON
// handler for CI pipelines. Logs go to stderr by default so command output
// on stdout stays machine-readable.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	level slog.LevelVar

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stderr
	useColor           = isTerminal(os.Stderr)
	slogger  *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	rebuild()
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// rebuild must be called with mu held or before any concurrent use.
func rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	if format == "json" {
		slogger = slog.New(slog.NewJSONHandler(output, opts))
		return
	}
	slogger = slog.New(newConsoleHandler(output, opts, useColor))
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var w io.Writer
		var color bool
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w, color = os.Stdout, isTerminal(os.Stdout)
		case "stderr":
			w, color = os.Stderr, isTerminal(os.Stderr)
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open log file %q: %w", cfg.Output, err)
			}
			w = f
		}
		mu.Lock()
		output, useColor = w, color
		rebuild()
		mu.Unlock()
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// InitWithWriter sends logs to w. Used by tests.
func InitWithWriter(w io.Writer, lvl, form string, color bool) {
	mu.Lock()
	output, useColor = w, color
	rebuild()
	mu.Unlock()
	SetLevel(lvl)
	SetFormat(form)
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "INFO":
		level.Set(slog.LevelInfo)
	case "WARN", "WARNING":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	}
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(name string) {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if name != format {
		format = name
		rebuild()
	}
}

// Level returns the active minimum level.
func Level() slog.Level {
	return level.Level()
}

func log(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if lvl < level.Level() {
		return
	}
	if lc := FromContext(ctx); lc != nil {
		args = append(lc.attrs(), args...)
	}
	mu.RLock()
	l := slogger
	mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	l.Log(ctx, lvl, msg, args...)
}

// Debug logs msg with key/value pairs.
func Debug(msg string, args ...any) { log(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any) { log(context.Background(), slog.LevelInfo, msg, args) }

func Warn(msg string, args ...any) { log(context.Background(), slog.LevelWarn, msg, args) }

func Error(msg string, args ...any) { log(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs msg, prefixed with the LogContext fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelDebug, msg, args) }

func InfoCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelInfo, msg, args) }

func WarnCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelWarn, msg, args) }

func ErrorCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelError, msg, args) }

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
