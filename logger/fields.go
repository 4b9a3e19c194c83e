package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings to keep log queries stable.
const (
	// Identity and correlation
	FieldRunID    = "run_id"
	FieldStoryKey = "story_key"
	FieldTestKey  = "test_key"
	FieldJobID    = "job_id"

	// Components
	FieldComponent = "component"
	FieldStrategy  = "strategy"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldURL       = "url"
	FieldAttempt   = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldInterval   = "interval"

	// Errors
	FieldError      = "error"
	FieldStatusCode = "status_code"

	// Counts and sizes
	FieldCount      = "count"
	FieldSize       = "size"
	FieldTotalCount = "total_count"

	// Status
	FieldStatus   = "status"
	FieldProgress = "progress"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"

	// Model
	FieldModel        = "model"
	FieldInputTokens  = "input_tokens"
	FieldOutputTokens = "output_tokens"
	FieldStopReason   = "stop_reason"
)

type contextKey string

const (
	runIDKey    contextKey = "logger_run_id"
	storyKeyKey contextKey = "logger_story_key"
)

// WithRunID adds a generation run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithStoryKey adds the source story key to the context for logging
func WithStoryKey(ctx context.Context, storyKey string) context.Context {
	return context.WithValue(ctx, storyKeyKey, storyKey)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if storyKey, ok := ctx.Value(storyKeyKey).(string); ok && storyKey != "" {
		fields = append(fields, FieldStoryKey, storyKey)
	}

	return fields
}

// FromContext returns l enriched with the fields carried by ctx
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	func NewTracker(reader StatusReader) *Tracker {
//	    return &Tracker{
//	        reader: reader,
//	        logger: logger.ComponentLogger("xray.tracker"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
