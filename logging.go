package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. Defaults: level=info, format=text, stdout
// only. With file set, output is also written to a size-rotated log file.
func newLogger(level, format, file string) (*slog.Logger, io.Closer) {
	lvl := slog.LevelInfo
	unknown := false
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	log := slog.New(handler)
	if unknown {
		log.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return log, closer
}
