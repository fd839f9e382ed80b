package telemetry

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/warden/db"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
)

const insertAuditEvent = `INSERT INTO audit_events (
	id, function_id, event_type, timestamp, status, prev_status, trigger, execution_id,
	execution_count, success_count, error_count, duration_ms, error_kind, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectAuditEvents = `SELECT
	id, function_id, event_type, timestamp, status, prev_status, trigger, execution_id,
	execution_count, success_count, error_count, duration_ms, error_kind, error
FROM audit_events
WHERE function_id = ?
ORDER BY timestamp DESC, id DESC
LIMIT ?`

// auditTimeLayout is fixed-width so timestamps sort lexically in SQL.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AuditSink appends events to the audit_events table.
type AuditSink struct {
	db      *sql.DB
	logger  *zap.SugaredLogger
	failLog rate.Sometimes
}

// NewAuditSink creates a sink over a database migrated with db.Migrate.
func NewAuditSink(conn *sql.DB, l *zap.SugaredLogger) *AuditSink {
	return &AuditSink{
		db:      conn,
		logger:  logger.OrNop(l),
		failLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Emit records e, logging (throttled) on failure.
func (s *AuditSink) Emit(ctx context.Context, e Event) {
	if err := s.Record(ctx, e); err != nil {
		s.failLog.Do(func() {
			s.logger.Errorw("Failed to write audit event",
				logger.FieldEventID, e.ID,
				logger.FieldFunctionID, e.FunctionID,
				logger.FieldError, err.Error())
		})
	}
}

// Record inserts e. The caller's cancellation does not abort the write; an execution
// that timed out still gets its audit row.
func (s *AuditSink) Record(ctx context.Context, e Event) error {
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx, insertAuditEvent,
		e.ID,
		e.FunctionID,
		string(e.EventType),
		e.Timestamp.UTC().Format(auditTimeLayout),
		string(e.Status),
		string(e.PrevStatus),
		e.Trigger,
		e.ExecutionID,
		e.Counters.Executions,
		e.Counters.Successes,
		e.Counters.Errors,
		e.Duration.Milliseconds(),
		e.ErrorKind,
		e.Error,
	)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			return errors.Mark(errors.Wrap(err, "audit database is closed"), db.ErrDatabaseClosed)
		}
		return errors.Wrap(err, "failed to insert audit event")
	}
	return nil
}

// Recent returns up to limit events for functionID, newest first.
func (s *AuditSink) Recent(ctx context.Context, functionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectAuditEvents, functionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                  Event
			eventType, ts      string
			status, prevStatus string
			durationMS         int64
		)
		if err := rows.Scan(
			&e.ID, &e.FunctionID, &eventType, &ts, &status, &prevStatus, &e.Trigger, &e.ExecutionID,
			&e.Counters.Executions, &e.Counters.Successes, &e.Counters.Errors,
			&durationMS, &e.ErrorKind, &e.Error,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit event")
		}
		e.EventType = EventType(eventType)
		e.Status = function.Status(status)
		e.PrevStatus = function.Status(prevStatus)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.Timestamp, err = time.Parse(auditTimeLayout, ts); err != nil {
			return nil, errors.Wrapf(err, "invalid audit timestamp %q", ts)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read audit events")
	}
	return events, nil
}

// Prune deletes events older than before and returns how many were removed.
func (s *AuditSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", before.UTC().Format(auditTimeLayout))
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune audit events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned audit events")
	}
	return n, nil
}
