package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/hashicorp/go-hclog"
)

// HCLog adapts an slog.Logger to hclog.Logger for hashicorp/raft.
func HCLog(l *slog.Logger, name string) hclog.Logger {
	return &hcLogger{logger: l.With("component", name), name: name}
}

type hcLogger struct {
	logger  *slog.Logger
	name    string
	implied []any
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return level.Level() <= slog.LevelDebug }
func (l *hcLogger) IsInfo() bool  { return level.Level() <= slog.LevelInfo }
func (l *hcLogger) IsWarn() bool  { return level.Level() <= slog.LevelWarn }
func (l *hcLogger) IsError() bool { return true }

func (l *hcLogger) ImpliedArgs() []any { return l.implied }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return &hcLogger{
		logger:  l.logger.With(args...),
		name:    l.name,
		implied: append(append([]any(nil), l.implied...), args...),
	}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &hcLogger{logger: l.logger.With("subsystem", name), name: name, implied: l.implied}
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{logger: l.logger, name: name, implied: l.implied}
}

func (l *hcLogger) SetLevel(hclog.Level) {}

func (l *hcLogger) GetLevel() hclog.Level {
	switch {
	case level.Level() <= slog.LevelDebug:
		return hclog.Debug
	case level.Level() <= slog.LevelInfo:
		return hclog.Info
	case level.Level() <= slog.LevelWarn:
		return hclog.Warn
	}
	return hclog.Error
}

func (l *hcLogger) StandardLogger(*hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(nil), "", 0)
}

func (l *hcLogger) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return Writer(l.logger)
}

// Writer adapts an slog.Logger to an io.Writer for libraries that log
// through the standard log package, such as memberlist. Each line is one
// debug record; a "[WARN]" or "[ERR]" prefix raises the level.
func Writer(l *slog.Logger) io.Writer {
	return &slogWriter{logger: l}
}

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		msg := strings.TrimSpace(string(line))
		switch {
		case msg == "":
		case strings.Contains(msg, "[ERR]"):
			w.logger.Error(msg)
		case strings.Contains(msg, "[WARN]"):
			w.logger.Warn(msg)
		default:
			w.logger.Debug(msg)
		}
	}
	return len(p), nil
}

// Badger adapts an slog.Logger to badger.Logger.
func Badger(l *slog.Logger) badger.Logger {
	return &badgerLogger{logger: l.With("component", "badger")}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
