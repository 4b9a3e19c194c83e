package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
)

func init() {
	// No-op until Initialize so packages can log from init and tests
	Logger = zap.NewNop().Sugar()
}

// Options controls how the global logger is built
type Options struct {
	// JSON switches console output to zap's production JSON encoding
	JSON bool
	// Verbosity is the -v flag count (see verbosity.go)
	Verbosity int
	// NoColor disables ANSI colors even on a terminal
	NoColor bool
	// File, when set, receives a copy of every entry in JSON form.
	// Parent directories are created on demand.
	File string
}

// Initialize sets up the global logger
func Initialize(opts Options) error {
	JSONOutput = opts.JSON
	level := zap.NewAtomicLevelAt(VerbosityToLevel(opts.Verbosity))

	var consoleEncoder zapcore.Encoder
	if opts.JSON {
		consoleEncoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		consoleEncoder = newConsoleEncoder(!opts.NoColor && term.IsTerminal(int(os.Stderr.Fd())))
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		// The file always records info and above, whatever the console shows
		fileLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if level.Level() < zapcore.InfoLevel {
			fileLevel = level
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			fileLevel,
		))
	}

	Logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	return nil
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
