package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across warden.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldFunctionID  = "function_id"
	FieldExecutionID = "execution_id"
	FieldEventID     = "event_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"

	// Operations
	FieldOperation = "operation"
	FieldEventType = "event_type"
	FieldTrigger   = "trigger"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldIdleFor    = "idle_for"
	FieldInterval   = "interval"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount      = "count"
	FieldTotalCount = "total_count"
	FieldExecutions = "execution_count"
	FieldSuccesses  = "success_count"
	FieldErrors     = "error_count"

	// Status
	FieldStatus     = "status"
	FieldPrevStatus = "prev_status"
	FieldCritical   = "is_critical"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"
)

// Context keys for propagating logging context
type contextKey string

const (
	requestIDKey  contextKey = "logger_request_id"
	componentKey  contextKey = "logger_component"
	functionIDKey contextKey = "logger_function_id"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithFunctionID adds a function ID to the context for logging
func WithFunctionID(ctx context.Context, functionID string) context.Context {
	return context.WithValue(ctx, functionIDKey, functionID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}
	if functionID, ok := ctx.Value(functionIDKey).(string); ok && functionID != "" {
		fields = append(fields, FieldFunctionID, functionID)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Scheduler struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewScheduler() *Scheduler {
//	    return &Scheduler{
//	        logger: logger.ComponentLogger("warden.sleep"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
