package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

// Current handler wiring. SetLevel and SetOutput rebuild from these so the
// two calls compose in either order.
var (
	structuredOut   io.Writer = os.Stdout
	humanOut        io.Writer = os.Stderr
	structuredLevel slog.Level = slog.LevelDebug
	humanLevel      slog.Level = slog.LevelInfo
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames customizes level attribute rendering so the extra
// TRACE and FATAL levels print with their proper names.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with structured and human-readable loggers.
// It configures JSON output for structured logs and Text output for human-readable logs.
func Init() {
	structuredOut = os.Stdout
	humanOut = os.Stderr
	structuredLevel = slog.LevelDebug
	humanLevel = slog.LevelInfo
	rebuild()
}

// rebuild recreates both handlers from the current output and level wiring
// and reinstalls the structured logger as the process default.
func rebuild() {
	structuredLogger = slog.New(slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       structuredLevel,
		ReplaceAttr: replaceLevelNames,
	}))
	humanReadableLogger = slog.New(slog.NewTextHandler(humanOut, &slog.HandlerOptions{
		Level:       humanLevel,
		ReplaceAttr: replaceLevelNames,
	}))
	slog.SetDefault(structuredLogger)
}

// SetLevel sets the minimum logging level for both structured and human-readable loggers.
func SetLevel(level slog.Level) {
	structuredLevel = level
	humanLevel = level
	rebuild()
}

// SetOutput redirects logger output, e.g. to a file or test buffer. Levels
// set through SetLevel are preserved.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	structuredOut = structuredOutput
	humanOut = humanReadableOutput
	rebuild()
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// It uses the global structured logger as the base.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
// Uses the default logger.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
// Uses the default logger.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// FileRotation carries rotation settings for file-backed loggers. The zero
// value selects size-based rotation with the package defaults.
type FileRotation struct {
	MaxSizeMB  int // rotate after this many megabytes (default 100)
	MaxBackups int // rotated files to keep (default 3)
	MaxAgeDays int // days to keep rotated files (default 28)
}

// newRotatingWriter creates the log directory and a lumberjack writer with
// the rotation defaults applied.
func newRotatingWriter(filePath string, rotation FileRotation) (*lumberjack.Logger, error) {
	// Ensure the directory exists (lumberjack doesn't create directories)
	logDir := filepath.Dir(filePath)
	if logDir != "." { // Avoid trying to create the current directory if filePath is just a filename
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 100
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = 3
	}
	if rotation.MaxAgeDays <= 0 {
		rotation.MaxAgeDays = 28
	}

	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   false,
	}, nil
}

// EnableFileOutput tees the structured log into a rotating file alongside
// stdout. It returns a close function for the underlying writer.
func EnableFileOutput(filePath string, rotation FileRotation) (func() error, error) {
	logWriter, err := newRotatingWriter(filePath, rotation)
	if err != nil {
		return nil, err
	}

	structuredOut = io.MultiWriter(os.Stdout, logWriter)
	rebuild()

	return logWriter.Close, nil
}

// NewFileLogger creates a new slog.Logger instance configured to write JSON logs
// to the specified file path using lumberjack for rotation.
// It includes a 'service' attribute in all logs.
// It returns the logger, a function to close the underlying log writer, and an error if setup fails.
func NewFileLogger(filePath, serviceName string, level slog.Level, rotation FileRotation) (*slog.Logger, func() error, error) {
	logWriter, err := newRotatingWriter(filePath, rotation)
	if err != nil {
		return nil, nil, err
	}

	// Create a handler writing to the lumberjack writer
	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})

	// Create the logger and add the service attribute
	logger := slog.New(fileHandler).With("service", serviceName)

	// Note: lumberjack's Close is about internal state cleanup; file handle
	// management happens internally based on rotation.
	closeFunc := func() error {
		return logWriter.Close()
	}

	return logger, closeFunc, nil
}
