// Package livelog provides the process-wide structured logger for joulia-live.
// It is a separate package so every layer can log without import cycles.
package livelog

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Logger wraps a slog.Logger with the key/value convenience methods used
// throughout the codebase.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	// Log is the global logger instance. It writes to stderr until Init
	// redirects it to a file.
	Log = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	return &Logger{
		logger: slog.New(newHandler(w, level)),
		level:  level,
	}
}

func newHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
}

// Init redirects the global logger to the file at path. If path is empty the
// logger keeps writing to stderr.
func Init(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	Log.mu.Lock()
	Log.file = f
	Log.logger = slog.New(newHandler(f, Log.level))
	Log.mu.Unlock()

	Log.Info("Logger initialized", "path", path)
	return nil
}

// SetOutput replaces the log destination. Used by tests to silence output.
func SetOutput(w io.Writer) {
	Log.mu.Lock()
	defer Log.mu.Unlock()
	Log.logger = slog.New(newHandler(w, Log.level))
}

// SetVerbose switches between debug and info level.
func SetVerbose(verbose bool) {
	if verbose {
		Log.level.Set(slog.LevelDebug)
		return
	}
	Log.level.Set(slog.LevelInfo)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.logger = slog.New(newHandler(os.Stderr, l.level))
		return err
	}
	return nil
}

// Slog returns the underlying slog.Logger for libraries that accept one.
func (l *Logger) Slog() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logger
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.Slog().Debug(msg, keyvals...)
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.Slog().Info(msg, keyvals...)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.Slog().Warn(msg, keyvals...)
}

// Error logs an error message with optional key-value pairs. Error values
// are rendered with tint's error highlighting.
func (l *Logger) Error(msg string, keyvals ...any) {
	args := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i++ {
		if key, ok := keyvals[i].(string); ok && i+1 < len(keyvals) {
			if err, ok := keyvals[i+1].(error); ok {
				attr := tint.Err(err)
				attr.Key = key
				args = append(args, attr)
				i++
				continue
			}
		}
		args = append(args, keyvals[i])
	}
	l.Slog().Error(msg, args...)
}

// Timed logs the duration of an operation. Usage:
//
//	defer livelog.Log.Timed("operation name")()
func (l *Logger) Timed(operation string) func() {
	start := time.Now()
	l.Debug(operation, "status", "started")
	return func() {
		l.Debug(operation, "status", "completed", "duration", time.Since(start))
	}
}
