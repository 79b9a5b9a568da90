package voxbooth

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// VoxLogger wraps zerolog for structured logging
type VoxLogger struct {
	logger zerolog.Logger
}

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level  zerolog.Level
	Pretty bool
	Output io.Writer
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  zerolog.InfoLevel,
		Pretty: true,
		Output: os.Stderr,
	}
}

// NewVoxLogger creates a new structured logger
func NewVoxLogger(config *LogConfig) *VoxLogger {
	if config == nil {
		config = DefaultLogConfig()
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if config.Pretty {
		logger = log.Output(zerolog.ConsoleWriter{
			Out:        config.Output,
			TimeFormat: time.Kitchen,
		})
	} else {
		logger = zerolog.New(config.Output)
	}

	logger = logger.Level(config.Level).With().Timestamp().Logger()

	return &VoxLogger{logger: logger}
}

// WithComponent adds a component field to the logger
func (l *VoxLogger) WithComponent(component string) *VoxLogger {
	return &VoxLogger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// WithField adds a field to the logger
func (l *VoxLogger) WithField(key string, value interface{}) *VoxLogger {
	return &VoxLogger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *VoxLogger) WithFields(fields map[string]interface{}) *VoxLogger {
	return &VoxLogger{
		logger: l.logger.With().Fields(fields).Logger(),
	}
}

// WithError adds an error field to the logger
func (l *VoxLogger) WithError(err error) *VoxLogger {
	return &VoxLogger{
		logger: l.logger.With().Err(err).Logger(),
	}
}

func (l *VoxLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *VoxLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *VoxLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *VoxLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *VoxLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *VoxLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *VoxLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

func (l *VoxLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *VoxLogger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// LogAudioEvent logs audio-related events with structured fields
func (l *VoxLogger) LogAudioEvent(event string, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "audio").
		Str("event", event).
		Fields(fields).
		Msg("Audio event")
}

// LogVoxError logs a VoxError with its code and details
func (l *VoxLogger) LogVoxError(err *VoxError) {
	l.logger.Error().
		Str("error_code", err.Code).
		Time("timestamp", err.Timestamp).
		Fields(err.Details).
		Msg(err.Message)
}

// Global logger instance
var globalLogger *VoxLogger

func init() {
	globalLogger = NewVoxLogger(DefaultLogConfig())
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *VoxLogger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *VoxLogger) {
	globalLogger = logger
}
