package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/raainshe/qbitdash/internal/config"
)

// Component represents different parts of the application for contextualized logging
type Component string

const (
	ComponentSync      Component = "sync"
	ComponentScheduler Component = "scheduler"
	ComponentStats     Component = "stats"
	ComponentWebSocket Component = "websocket"
	ComponentServer    Component = "server"
	ComponentCache     Component = "cache"
	ComponentConfig    Component = "config"
	ComponentCLI       Component = "cli"
	ComponentMain      Component = "main"
)

// Logger wraps logrus.Logger with a component context
type Logger struct {
	*logrus.Logger
	config    *config.LoggingConfig
	component Component
	file      io.Closer
}

// loggerInstance holds the global logger instance, a plain text logger until Initialize runs
var loggerInstance = newFallbackLogger()

func newFallbackLogger() *Logger {
	fallbackLogger := logrus.New()
	fallbackLogger.SetLevel(logrus.InfoLevel)
	fallbackLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{
		Logger:    fallbackLogger,
		component: ComponentMain,
	}
}

// Initialize sets up the global logger with the provided configuration
func Initialize(cfg *config.LoggingConfig) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	var writers []io.Writer
	var fileWriter *lumberjack.Logger

	if cfg.ToStdout {
		writers = append(writers, os.Stdout)
	}

	// File writer with rotation
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if logDir != "." {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory '%s': %w", logDir, err)
			}
		}

		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	logger.SetOutput(io.MultiWriter(writers...))

	if len(writers) == 1 && cfg.File == "" {
		// Human-readable format for stdout-only
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	appLogger := &Logger{
		Logger:    logger,
		config:    cfg,
		component: ComponentMain,
	}
	if fileWriter != nil {
		appLogger.file = fileWriter
	}

	loggerInstance = appLogger

	if level <= logrus.InfoLevel {
		appLogger.Info("Logger initialized successfully")
	}

	return appLogger, nil
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	return loggerInstance
}

// WithComponent creates a new logger instance with a specific component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{
		Logger:    l.Logger,
		config:    l.config,
		component: component,
		file:      l.file,
	}
}

// WithField adds a field to the logger entry and ensures component is included
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		key:         value,
	})
}

// WithFields adds multiple fields to the logger entry and ensures component is included
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	merged := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["component"] = l.component
	return l.Logger.WithFields(merged)
}

// WithError adds an error field to the logger entry and ensures component is included
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err,
	})
}

// WithInstance scopes an entry to one remote qBittorrent instance
func (l *Logger) WithInstance(id int64, name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"instance_id":   id,
		"instance_name": name,
	})
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// Debug logs a debug message with component context
func (l *Logger) Debug(args ...interface{}) { l.entry().Debug(args...) }

// Debugf logs a formatted debug message with component context
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry().Debugf(format, args...) }

// Info logs an info message with component context
func (l *Logger) Info(args ...interface{}) { l.entry().Info(args...) }

// Infof logs a formatted info message with component context
func (l *Logger) Infof(format string, args ...interface{}) { l.entry().Infof(format, args...) }

// Warn logs a warning message with component context
func (l *Logger) Warn(args ...interface{}) { l.entry().Warn(args...) }

// Warnf logs a formatted warning message with component context
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry().Warnf(format, args...) }

// Error logs an error message with component context
func (l *Logger) Error(args ...interface{}) { l.entry().Error(args...) }

// Errorf logs a formatted error message with component context
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry().Errorf(format, args...) }

// Fatal logs a fatal message with component context and exits
func (l *Logger) Fatal(args ...interface{}) { l.entry().Fatal(args...) }

// GetSyncLogger returns a logger for the qBittorrent sync client
func GetSyncLogger() *Logger {
	return GetLogger().WithComponent(ComponentSync)
}

// GetSchedulerLogger returns a logger for the polling scheduler
func GetSchedulerLogger() *Logger {
	return GetLogger().WithComponent(ComponentScheduler)
}

// GetStatsLogger returns a logger for traffic stats decoding
func GetStatsLogger() *Logger {
	return GetLogger().WithComponent(ComponentStats)
}

// GetWebSocketLogger returns a logger for the viewer registry
func GetWebSocketLogger() *Logger {
	return GetLogger().WithComponent(ComponentWebSocket)
}

// GetServerLogger returns a logger for the HTTP server
func GetServerLogger() *Logger {
	return GetLogger().WithComponent(ComponentServer)
}

// GetCacheLogger returns a logger instance configured for cache operations
func GetCacheLogger() *Logger {
	return GetLogger().WithComponent(ComponentCache)
}

// GetConfigLogger returns a logger instance configured for configuration operations
func GetConfigLogger() *Logger {
	return GetLogger().WithComponent(ComponentConfig)
}

// GetCLILogger returns a logger instance configured for CLI operations
func GetCLILogger() *Logger {
	return GetLogger().WithComponent(ComponentCLI)
}

// SetLogLevel changes the log level at runtime
func SetLogLevel(levelStr string) error {
	logger := GetLogger()
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", levelStr, err)
	}

	logger.Logger.SetLevel(level)
	logger.Debugf("Log level changed to: %s", level.String())
	return nil
}

// GetLogLevel returns the current log level
func GetLogLevel() string {
	return GetLogger().Logger.GetLevel().String()
}

// LogCommand logs a CLI command execution
func LogCommand(command string, args []string) {
	GetCLILogger().WithFields(logrus.Fields{
		"command": command,
		"args":    args,
	}).Debug("CLI command executed")
}

// LogCycle records the outcome of one scheduler cycle
func LogCycle(cycle string, instances, failures, viewers int, duration time.Duration) {
	GetSchedulerLogger().WithFields(logrus.Fields{
		"cycle":       cycle,
		"instances":   instances,
		"failures":    failures,
		"viewers":     viewers,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Cycle completed")
}

// LogError logs an error with additional context
func LogError(component Component, operation string, err error, context map[string]interface{}) {
	logger := GetLogger().WithComponent(component)
	fields := logrus.Fields{
		"operation": operation,
		"error":     err.Error(),
	}

	for k, v := range context {
		fields[k] = v
	}

	logger.WithFields(fields).Error("Operation failed")
}

// Shutdown flushes and closes the rotating log file
func Shutdown() {
	logger := GetLogger()
	if logger.file == nil {
		return
	}

	logger.Info("Shutting down logging system")
	logger.file.Close()
}
