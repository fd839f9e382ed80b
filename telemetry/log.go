package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/warden/logger"
)

// LogEmitter writes one structured audit log entry per event.
type LogEmitter struct {
	logger *zap.SugaredLogger
}

// NewLogEmitter creates an emitter writing to the "audit" child of l.
func NewLogEmitter(l *zap.SugaredLogger) *LogEmitter {
	return &LogEmitter{logger: logger.OrNop(l).Named("audit")}
}

// Emit logs e. Failed events log at warn level.
func (le *LogEmitter) Emit(ctx context.Context, e Event) {
	fields := []interface{}{
		logger.FieldEventID, e.ID,
		logger.FieldFunctionID, e.FunctionID,
		logger.FieldEventType, string(e.EventType),
		logger.FieldStatus, string(e.Status),
		logger.FieldExecutions, e.Counters.Executions,
		logger.FieldSuccesses, e.Counters.Successes,
		logger.FieldErrors, e.Counters.Errors,
	}
	if e.PrevStatus != "" {
		fields = append(fields, logger.FieldPrevStatus, string(e.PrevStatus))
	}
	if e.Trigger != "" {
		fields = append(fields, logger.FieldTrigger, e.Trigger)
	}
	if e.ExecutionID != "" {
		fields = append(fields, logger.FieldExecutionID, e.ExecutionID)
	}
	if e.Duration > 0 {
		fields = append(fields, logger.FieldDurationMS, e.Duration.Milliseconds())
	}
	fields = append(fields, logger.FieldsFromContext(ctx)...)

	if e.Failed() {
		fields = append(fields, logger.FieldErrorKind, e.ErrorKind, logger.FieldError, e.Error)
		le.logger.Warnw("Function event", fields...)
		return
	}
	le.logger.Infow("Function event", fields...)
}
