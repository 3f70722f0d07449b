// Package logger builds the zerolog loggers shared by the server and worker.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages can take a logger without
// importing zerolog themselves.
type Logger = zerolog.Logger

// New builds the process logger. Development gets a console writer, every
// other environment gets JSON lines on stdout.
func New(env, level string) Logger {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop returns a disabled logger, mostly for tests.
func Nop() Logger {
	return zerolog.Nop()
}

// WithJob returns a logger with job_id attached
func WithJob(l Logger, jobID string) Logger {
	return l.With().Str("job_id", jobID).Logger()
}

// WithComponent returns a logger with component attached
func WithComponent(l Logger, component string) Logger {
	return l.With().Str("component", component).Logger()
}

// Asynq adapts a zerolog logger to asynq's Logger interface.
func Asynq(l Logger) *AsynqLogger {
	return &AsynqLogger{l: WithComponent(l, "asynq")}
}

type AsynqLogger struct {
	l Logger
}

func (a *AsynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
