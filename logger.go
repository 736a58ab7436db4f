package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels for the -v flag:
// 0 prints warnings and errors, 1 adds per-transfer info, 2 adds per-packet detail.
const (
	levelQuiet = iota
	levelInfo
	levelDebug
)

func slogLevel(v int) slog.Level {
	switch {
	case v <= levelQuiet:
		return slog.LevelWarn
	case v == levelInfo:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// Logger is a printf-style front for slog, tagged with the component name.
type Logger struct {
	l *slog.Logger
}

func newLogger(w io.Writer, component string, level int) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	return &Logger{l: slog.New(h).With("component", component)}
}

// discardLogger is used by tests and callers that do not care.
func discardLogger() *Logger {
	return &Logger{l: slog.New(slog.DiscardHandler)}
}

// openLogFile returns a size-rotated log file: 10 MB per file, 5 backups.
func openLogFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 5,
	}
}

func (lg *Logger) logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !lg.l.Enabled(ctx, level) {
		return
	}
	lg.l.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (lg *Logger) Debugf(format string, args ...any) { lg.logf(slog.LevelDebug, format, args...) }

func (lg *Logger) Infof(format string, args ...any) { lg.logf(slog.LevelInfo, format, args...) }

func (lg *Logger) Warnf(format string, args ...any) { lg.logf(slog.LevelWarn, format, args...) }

func (lg *Logger) Errorf(format string, args ...any) { lg.logf(slog.LevelError, format, args...) }
