package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

type loggerContextKey struct{}

// NewLogger creates a logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}
	return NewLoggerTo(writer, cfg), nil
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	case "unixmicro":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zlog := zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}
	return &Logger{zlog: zlog, config: cfg}
}

// Zerolog returns the underlying logger, as expected by the plan appliers
// and the constraint checkers.
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

// NewComponentLogger creates a child logger for a component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.WithField("component", component)
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context, or a disabled logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.Nop()}
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// WithRunID adds a run_id field.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithPlan adds the plan size and duration.
func (l *Logger) WithPlan(actions, duration int) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Int("plan_actions", actions).
			Int("plan_duration", duration).
			Logger(),
		config: l.config,
	}
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		config: l.config,
	}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

// Error logs an error-level message.
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
