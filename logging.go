package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logOnce sync.Once
	baseLog zerolog.Logger
)

// configureLogging initialises the global zerolog logger exactly once.
// Output goes to stdout and, when the lifecycle log file can be opened,
// to converter.log as well.
func configureLogging() {
	logOnce.Do(func() {
		level := zerolog.InfoLevel
		if env := os.Getenv("LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		var writer io.Writer = os.Stdout
		if f, err := os.OpenFile(LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			writer = zerolog.MultiLevelWriter(os.Stdout, f)
		}

		baseLog = zerolog.New(writer).With().
			Timestamp().
			Str("service", "vidgrab").
			Logger()
	})
}

func logger() zerolog.Logger {
	configureLogging()
	return baseLog
}

// componentLogger returns a child logger annotated with the given component name.
func componentLogger(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}
