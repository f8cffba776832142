package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with additional functionality
type Logger struct {
	*zerolog.Logger
	out *output
}

// output is the log file shared by a logger and everything derived from it
type output struct {
	once sync.Once
	file io.Closer
	err  error
}

func (o *output) close() error {
	if o == nil || o.file == nil {
		return nil
	}
	o.once.Do(func() { o.err = o.file.Close() })
	return o.err
}

// NewLogger creates a new logger based on configuration
func NewLogger(cfg *config.LoggingConfig) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	w, file, openErr := openOutput(cfg.Output)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		if cfg.EnableCaller {
			log.Logger = log.Logger.With().Caller().Logger()
		}
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	l := &Logger{Logger: &log.Logger, out: &output{file: file}}
	if openErr != nil {
		l.Logger.Warn().Err(openErr).Str("output", cfg.Output).Msg("Cannot open log output, using stdout")
	}
	return l
}

// New wraps an arbitrary writer; used by tests and tools that capture output
func New(w io.Writer) *Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{Logger: &l}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{Logger: &l}
}

// openOutput resolves the configured output. A file that cannot be opened
// falls back to stdout and the error is returned for the caller to report.
func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, nil, err
	}
	return f, f, nil
}

// Close releases the log file, if any. Loggers derived with the With*
// helpers share it; closing any of them closes it once.
func (l *Logger) Close() error {
	return l.out.close()
}

func (l *Logger) derive(zl zerolog.Logger) *Logger {
	return &Logger{Logger: &zl, out: l.out}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	logger := l.Logger.With().Interface(key, value).Logger()
	return l.derive(logger)
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	context := l.Logger.With()
	for key, value := range fields {
		context = context.Interface(key, value)
	}
	logger := context.Logger()
	return l.derive(logger)
}

// WithError adds an error to the logger
func (l *Logger) WithError(err error) *Logger {
	logger := l.Logger.With().Err(err).Logger()
	return l.derive(logger)
}

// WithRequestID adds a request ID to the logger
func (l *Logger) WithRequestID(requestID string) *Logger {
	logger := l.Logger.With().Str("request_id", requestID).Logger()
	return l.derive(logger)
}

// WithService adds a service name to the logger
func (l *Logger) WithService(service string) *Logger {
	logger := l.Logger.With().Str("service", service).Logger()
	return l.derive(logger)
}

// WithComponent adds a component name to the logger
func (l *Logger) WithComponent(component string) *Logger {
	logger := l.Logger.With().Str("component", component).Logger()
	return l.derive(logger)
}

// WithDevice adds a device id to the logger
func (l *Logger) WithDevice(deviceID string) *Logger {
	logger := l.Logger.With().Str("device_id", deviceID).Logger()
	return l.derive(logger)
}

// FatalWithError logs a fatal message with error and exits
func (l *Logger) FatalWithError(err error, msg string) {
	l.Logger.Fatal().Err(err).Msg(msg)
}

// ErrorWithError logs an error message with error
func (l *Logger) ErrorWithError(err error, msg string) {
	l.Logger.Error().Err(err).Msg(msg)
}

// WarnWithError logs a warning with error
func (l *Logger) WarnWithError(err error, msg string) {
	l.Logger.Warn().Err(err).Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.Logger.Error().Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.Logger.Warn().Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.Logger.Info().Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.Logger.Debug().Msg(msg)
}
