// Package stdlog provides a logger implementation using the standard library's slog package
// used as adapter for printf-style logging interfaces (the client's own log lines and resty).
package stdlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Prefix starts every message written by the client.
const Prefix = "** [CrashLog] "

// SlogLogger is the implementation of crashlog.Logger using slog.
type SlogLogger struct {
	logger *slog.Logger
	prefix string
}

// NewLogger creates a new SlogLogger instance.
// A nil logger writes text lines to stdout.
func NewLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = NewSlogLogger(os.Stdout, true)
	}
	return &SlogLogger{logger: logger, prefix: Prefix}
}

// NewSlogLogger creates a new slog.Logger instance with the specified writer and format.
func NewSlogLogger(w io.Writer, isText bool) *slog.Logger {
	var handler slog.Handler
	if isText {
		handler = slog.NewTextHandler(w, nil)
	} else {
		handler = slog.NewJSONHandler(w, nil)
	}
	return slog.New(handler)
}

// Logf logs informational messages using slog's Info level.
func (l *SlogLogger) Logf(format string, args ...any) {
	l.logger.Info(l.prefix + fmt.Sprintf(format, args...))
}

// Warnf logs warnings using slog's Warn level.
func (l *SlogLogger) Warnf(format string, args ...any) {
	l.logger.Warn(l.prefix + fmt.Sprintf(format, args...))
}

// Errorf logs error messages using slog's Error level.
func (l *SlogLogger) Errorf(format string, args ...any) {
	l.logger.Error(l.prefix + fmt.Sprintf(format, args...))
}

// Debugf logs debug messages using slog's Debug level.
func (l *SlogLogger) Debugf(format string, args ...any) {
	l.logger.Debug(l.prefix + fmt.Sprintf(format, args...))
}
