// Package telemetry is the boundary to the observability pipeline.
//
// The manager emits one Event per execution and per state transition. Emitters deliver
// events to the audit log (zap), OpenTelemetry metrics and an optional SQLite audit table.
// Emitters never return errors to the caller: a broken sink must not fail an operation.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
)

// EventType classifies an event.
type EventType string

const (
	EventRegistered         EventType = "registered"
	EventUnregistered       EventType = "unregistered"
	EventTransition         EventType = "state_transition"
	EventExecution          EventType = "execution"
	EventTest               EventType = "test"
	EventPersistenceFailure EventType = "persistence_failure"
)

// Event is the structured record handed to the observability pipeline.
type Event struct {
	ID           string            `json:"event_id"`
	FunctionID   string            `json:"function_id"`
	FunctionType string            `json:"function_type,omitempty"`
	EventType    EventType         `json:"event_type"`
	Timestamp    time.Time         `json:"timestamp"`
	Status       function.Status   `json:"status"`
	PrevStatus   function.Status   `json:"prev_status,omitempty"`
	Trigger      string            `json:"trigger,omitempty"`
	ExecutionID  string            `json:"execution_id,omitempty"`
	Counters     function.Counters `json:"counters"`
	Duration     time.Duration     `json:"duration_ns,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewEvent creates an event describing rec at now.
func NewEvent(typ EventType, rec *function.Record, now time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		FunctionID:   rec.FunctionID,
		FunctionType: rec.FunctionType,
		EventType:    typ,
		Timestamp:    now,
		Status:       rec.Status,
		Counters:     rec.Counters(),
	}
}

// TransitionEvent creates the event for an applied transition. rec is the record after it.
func TransitionEvent(tr function.Transition, rec *function.Record, now time.Time) Event {
	e := NewEvent(EventTransition, rec, now)
	e.PrevStatus = tr.From
	e.Trigger = string(tr.Trigger)
	return e
}

// WithError attaches err's kind and message.
func (e Event) WithError(err error) Event {
	if err == nil {
		return e
	}
	e.ErrorKind = errors.Kind(err)
	e.Error = err.Error()
	return e
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.Error != ""
}

// Emitter delivers events.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event)

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, e Event) {
	f(ctx, e)
}

// Multi fans an event out to every emitter in order.
type Multi []Emitter

// Emit delivers e to each emitter.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(ctx, e)
		}
	}
}

// Nop discards events.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(context.Context, Event) {}
