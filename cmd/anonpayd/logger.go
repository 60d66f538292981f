// logger.go - Structured logging for the anonpay daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes to the console and an optional log file, and keeps a separate audit
// stream for warnings, errors and explicit audit events.
type Logger struct {
	zl    zerolog.Logger
	audit *zerolog.Logger
	files []*os.File
}

// NewLogger creates a new logger instance. Empty paths disable the file and audit outputs.
func NewLogger(level, logFile, auditFile string) (*Logger, error) {
	return newLogger(os.Stderr, level, logFile, auditFile)
}

func newLogger(console io.Writer, level, logFile, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	l := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}}
	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()

	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		a := zerolog.New(f).With().Timestamp().Str("stream", "audit").Logger()
		l.audit = &a
	}
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// Zerolog returns the underlying logger, for handing to library packages.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

func (l *Logger) log(level zerolog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.zl.WithLevel(level).Msg(msg)
	if l.audit != nil && level >= zerolog.WarnLevel {
		l.audit.WithLevel(level).Msg(msg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) { l.log(zerolog.DebugLevel, format, args...) }

// Info logs an info message
func (l *Logger) Info(format string, args ...any) { l.log(zerolog.InfoLevel, format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) { l.log(zerolog.WarnLevel, format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...any) { l.log(zerolog.ErrorLevel, format, args...) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, args ...any) {
	l.log(zerolog.FatalLevel, format, args...)
	l.Close()
	os.Exit(1)
}

// Audit logs an audit event
func (l *Logger) Audit(event string, details map[string]any) {
	if l.audit == nil {
		return
	}
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}
