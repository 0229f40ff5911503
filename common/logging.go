package common

import (
	"log/slog"
	"os"
)

// LoggingOpts configures the process logger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string

	// Level, when set, controls the handler level and can be adjusted after
	// setup. Debug is applied to it.
	Level *slog.LevelVar
}

// SetupLogger builds the process logger writing to stdout.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	if opts.Debug {
		level.Set(slog.LevelDebug)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
