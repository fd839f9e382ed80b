// Package dispatch invokes function handlers under a global concurrency ceiling
// and a per-call timeout, and folds each outcome back into the function's record.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/telemetry"
)

// Overflow selects what happens to calls beyond the concurrency ceiling.
type Overflow string

const (
	// OverflowQueue waits up to QueueTimeout for a free slot
	OverflowQueue Overflow = "queue"
	// OverflowFailFast rejects immediately with ErrCapacityExceeded
	OverflowFailFast Overflow = "fail_fast"
)

// ParseOverflow parses an overflow mode name.
func ParseOverflow(name string) (Overflow, error) {
	switch o := Overflow(strings.ToLower(strings.TrimSpace(name))); o {
	case OverflowQueue, OverflowFailFast:
		return o, nil
	case "":
		return OverflowQueue, nil
	default:
		return "", errors.NewInvalidRequestError("unknown overflow mode %q (want queue or fail_fast)", name)
	}
}

// Config contains configuration for the dispatcher
type Config struct {
	MaxConcurrent int64         `json:"max_concurrent"` // Ceiling across all functions
	Overflow      Overflow      `json:"overflow"`       // Behavior when the ceiling is reached
	QueueTimeout  time.Duration `json:"queue_timeout"`  // Longest wait for a slot in queue mode
	CallTimeout   time.Duration `json:"call_timeout"`   // Per-call deadline; 0 disables
	ErrorPolicy   function.ErrorPolicy
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 32,
		Overflow:      OverflowQueue,
		QueueTimeout:  30 * time.Second,
		CallTimeout:   60 * time.Second,
		ErrorPolicy:   function.ErrorPolicy{Threshold: 0.5, MinSamples: 5},
	}
}

// Result describes one completed execution.
type Result struct {
	ExecutionID string          `json:"execution_id"`
	FunctionID  string          `json:"function_id"`
	Output      any             `json:"output,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
	Woke        bool            `json:"woke,omitempty"` // The call woke a sleeping function
	Record      function.Record `json:"record"`         // Record after the outcome was applied
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.logger = logger.OrNop(l) }
}

// WithEmitter sets where execution and transition events go.
func WithEmitter(e telemetry.Emitter) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.emitter = e
		}
	}
}

// WithChangeHook registers fn to be called after every committed record mutation.
// The manager uses it to schedule a registry flush.
func WithChangeHook(fn func()) Option {
	return func(d *Dispatcher) { d.onChange = fn }
}

// Dispatcher executes function handlers.
//
// The semaphore bounds handler code actually running: a timed-out call returns to its
// caller at the deadline, but its slot is released only when the handler goroutine returns.
type Dispatcher struct {
	store    *function.Store
	handlers *HandlerRegistry
	emitter  telemetry.Emitter
	onChange func()
	now      func() time.Time
	logger   *zap.SugaredLogger

	sem           *semaphore.Weighted
	maxConcurrent int64
	overflow      Overflow
	inFlight      atomic.Int64

	mu           sync.RWMutex
	queueTimeout time.Duration
	callTimeout  time.Duration
	errorPolicy  function.ErrorPolicy
}

// New creates a dispatcher over store and handlers.
func New(store *function.Store, handlers *HandlerRegistry, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowQueue
	}

	d := &Dispatcher{
		store:         store,
		handlers:      handlers,
		emitter:       telemetry.Nop{},
		onChange:      func() {},
		now:           time.Now,
		logger:        logger.OrNop(nil),
		sem:           semaphore.NewWeighted(cfg.MaxConcurrent),
		maxConcurrent: cfg.MaxConcurrent,
		overflow:      cfg.Overflow,
		queueTimeout:  cfg.QueueTimeout,
		callTimeout:   cfg.CallTimeout,
		errorPolicy:   cfg.ErrorPolicy,
	}
	for _, opt := range opts {
		opt(d)
	}

	if warning := d.checkMemoryPressure(); warning != "" {
		d.logger.Warnw(warning, "max_concurrent", d.maxConcurrent)
	}
	return d
}

// SetPolicy updates the timeouts and error policy of a running dispatcher.
// The ceiling and overflow mode are fixed for the dispatcher's lifetime.
func (d *Dispatcher) SetPolicy(queueTimeout, callTimeout time.Duration, policy function.ErrorPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueTimeout = queueTimeout
	d.callTimeout = callTimeout
	d.errorPolicy = policy
}

// Handlers returns the handler registry the dispatcher resolves against.
func (d *Dispatcher) Handlers() *HandlerRegistry {
	return d.handlers
}

// InFlight returns the number of executions currently holding a slot.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Execute runs the handler of functionID with params.
//
// A SLEEPING function is woken first. DISABLED, MAINTENANCE, ERROR and TESTING functions
// fail with ErrFunctionUnavailable, as does a function whose dependencies cannot run.
// Every call that reaches its handler is counted exactly once, as a success or an error.
func (d *Dispatcher) Execute(ctx context.Context, functionID string, params Params) (Result, error) {
	res := Result{ExecutionID: uuid.NewString(), FunctionID: functionID}
	ctx = logger.WithFunctionID(ctx, functionID)

	rec, woke, err := d.admit(ctx, functionID)
	if err != nil {
		return res, err
	}
	res.Woke = woke
	res.Record = rec

	h, err := d.handlers.Resolve(&rec)
	if err != nil {
		d.failResolution(ctx, functionID, err)
		return res, err
	}

	if err := d.acquire(ctx); err != nil {
		return res, err
	}

	// A disable or sleep that committed while this call waited for a slot must be observed.
	if current, ok := d.store.Get(functionID); !ok || current.Status != function.StatusEnabled {
		rec, woke, err = d.admit(ctx, functionID)
		if err != nil {
			d.release()
			return res, err
		}
		res.Woke = res.Woke || woke
		res.Record = rec
	}

	out, dur, callErr := d.run(ctx, h, params)
	res.Output = out
	res.Duration = dur

	updated, err := d.recordOutcome(ctx, functionID, res.ExecutionID, dur, callErr)
	if err == nil {
		res.Record = updated
	}
	return res, callErr
}

// Probe invokes rec's handler under the ceiling and timeout without admission checks
// or counter updates. Test invocations use it while the function is TESTING.
func (d *Dispatcher) Probe(ctx context.Context, rec function.Record, params Params) (any, time.Duration, error) {
	h, err := d.handlers.Resolve(&rec)
	if err != nil {
		return nil, 0, err
	}
	if err := d.acquire(ctx); err != nil {
		return nil, 0, err
	}
	return d.run(logger.WithFunctionID(ctx, rec.FunctionID), h, params)
}

// admit checks that functionID may run, waking it if it sleeps.
func (d *Dispatcher) admit(ctx context.Context, functionID string) (function.Record, bool, error) {
	var tr function.Transition
	now := d.now()

	rec, err := d.store.UpdateWithPeers(functionID, func(r *function.Record, peers function.Peers) error {
		if r.Status != function.StatusEnabled && r.Status != function.StatusSleeping {
			return unavailable(r)
		}
		if err := checkDependencies(r, peers); err != nil {
			return err
		}
		if r.Status == function.StatusSleeping {
			var err error
			tr, err = function.Apply(r, function.TriggerWakeOnDemand, now)
			return err
		}
		return nil
	})
	if err != nil {
		return rec, false, err
	}

	if tr.Changed {
		d.logger.Infow("Woke function on demand",
			logger.FieldFunctionID, functionID,
			logger.FieldPrevStatus, string(tr.From))
		d.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &rec, now))
		d.onChange()
	}
	return rec, tr.Changed, nil
}

// failResolution moves the function to ERROR. The call is not counted as an execution.
func (d *Dispatcher) failResolution(ctx context.Context, functionID string, cause error) {
	var tr function.Transition
	now := d.now()
	rec, err := d.store.Update(functionID, func(r *function.Record) error {
		var err error
		tr, err = function.Apply(r, function.TriggerFail, now)
		return err
	})

	d.logger.Errorw("Handler resolution failed",
		logger.FieldFunctionID, functionID,
		logger.FieldError, cause.Error())

	if err != nil || !tr.Changed {
		return
	}
	d.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &rec, now).WithError(cause))
	d.onChange()
}

// recordOutcome folds one completed call into the counters and escalates to ERROR
// when the error window exceeds the policy.
func (d *Dispatcher) recordOutcome(ctx context.Context, functionID, executionID string, dur time.Duration, callErr error) (function.Record, error) {
	d.mu.RLock()
	policy := d.errorPolicy
	d.mu.RUnlock()

	var tr function.Transition
	now := d.now()
	rec, err := d.store.Update(functionID, func(r *function.Record) error {
		r.RecordExecution(callErr == nil, now)
		if callErr != nil && policy.Exceeded(r) {
			// TESTING refuses the trigger and stays as is; the counters still commit.
			tr, _ = function.Apply(r, function.TriggerFail, now)
		}
		return nil
	})
	if err != nil {
		// Unregistered while the handler ran; nothing left to count against.
		d.logger.Warnw("Dropped execution outcome",
			logger.FieldFunctionID, functionID,
			logger.FieldExecutionID, executionID,
			logger.FieldError, err.Error())
		return rec, err
	}

	event := telemetry.NewEvent(telemetry.EventExecution, &rec, now).WithError(callErr)
	event.ExecutionID = executionID
	event.Duration = dur
	d.emitter.Emit(ctx, event)

	if tr.Changed {
		d.logger.Warnw("Function escalated to error",
			logger.FieldFunctionID, functionID,
			logger.FieldErrors, rec.WindowErrors,
			logger.FieldExecutions, rec.WindowExecutions)
		d.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &rec, now).WithError(callErr))
	}
	d.onChange()
	return rec, nil
}

// acquire takes one slot according to the overflow mode.
func (d *Dispatcher) acquire(ctx context.Context) error {
	if d.overflow == OverflowFailFast {
		if !d.sem.TryAcquire(1) {
			return capacityExceeded(d.maxConcurrent)
		}
		d.inFlight.Add(1)
		return nil
	}

	d.mu.RLock()
	wait := d.queueTimeout
	d.mu.RUnlock()

	waitCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if err := d.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "cancelled while waiting for an execution slot")
		}
		return errors.WithDetailf(capacityExceeded(d.maxConcurrent), "waited %s for a slot", wait)
	}
	d.inFlight.Add(1)
	return nil
}

func (d *Dispatcher) release() {
	d.inFlight.Add(-1)
	d.sem.Release(1)
}

type outcome struct {
	out any
	err error
}

// run invokes h on its own goroutine and waits for it or the deadline.
// The caller must hold a slot; run hands it to the goroutine, which releases it on return.
func (d *Dispatcher) run(ctx context.Context, h Handler, params Params) (any, time.Duration, error) {
	d.mu.RLock()
	timeout := d.callTimeout
	d.mu.RUnlock()

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer d.release()
		defer func() {
			if r := recover(); r != nil {
				err := errors.Mark(errors.Newf("handler panicked: %v", r), errors.ErrHandlerFailure)
				done <- outcome{err: err}
			}
		}()
		out, err := h.Invoke(callCtx, params)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		dur := time.Since(start)
		if o.err == nil {
			return o.out, dur, nil
		}
		if callCtx.Err() != nil {
			return nil, dur, interrupted(callCtx, timeout)
		}
		if errors.Is(o.err, errors.ErrHandlerFailure) {
			return nil, dur, o.err
		}
		return nil, dur, errors.Mark(errors.Wrap(o.err, "handler failed"), errors.ErrHandlerFailure)

	case <-callCtx.Done():
		dur := time.Since(start)
		fields := append([]interface{}{logger.FieldDurationMS, dur.Milliseconds()}, logger.FieldsFromContext(ctx)...)
		d.logger.Warnw("Handler abandoned at deadline", fields...)
		return nil, dur, interrupted(callCtx, timeout)
	}
}

// interrupted classifies a call whose context ended before the handler finished.
func interrupted(callCtx context.Context, timeout time.Duration) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err := errors.Mark(errors.New("execution deadline exceeded"), errors.ErrExecutionTimeout)
		if timeout > 0 {
			err = errors.Mark(errors.Newf("execution exceeded %s", timeout), errors.ErrExecutionTimeout)
		}
		return errors.WithHint(err, "raise dispatcher.call_timeout_seconds or make the handler faster")
	}
	return errors.Mark(errors.Wrap(callCtx.Err(), "execution cancelled by caller"), errors.ErrHandlerFailure)
}

func unavailable(r *function.Record) error {
	err := errors.Mark(errors.Newf("function %s is %s", r.FunctionID, r.Status), errors.ErrFunctionUnavailable)
	switch r.Status {
	case function.StatusDisabled:
		return errors.WithHint(err, "enable the function first")
	case function.StatusMaintenance:
		return errors.WithHint(err, "end maintenance first")
	case function.StatusError:
		return errors.WithHint(err, "inspect the failure, then enable the function to recover it")
	case function.StatusTesting:
		return errors.WithHint(err, "wait for the running test to finish")
	}
	return err
}

func checkDependencies(r *function.Record, peers function.Peers) error {
	for _, dep := range r.Dependencies {
		peer, ok := peers.Peek(dep)
		if !ok {
			err := errors.Mark(errors.Newf("dependency %s of %s is not registered", dep, r.FunctionID), errors.ErrFunctionUnavailable)
			return errors.WithHintf(err, "register %s first", dep)
		}
		switch peer.Status {
		case function.StatusDisabled, function.StatusMaintenance, function.StatusError:
			err := errors.Mark(errors.Newf("dependency %s of %s is %s", dep, r.FunctionID, peer.Status), errors.ErrFunctionUnavailable)
			return errors.WithHintf(err, "bring %s back to enabled first", dep)
		}
	}
	return nil
}

func capacityExceeded(max int64) error {
	err := errors.Mark(errors.Newf("all %d execution slots are busy", max), errors.ErrCapacityExceeded)
	return errors.WithHint(err, "retry with backoff or raise dispatcher.max_concurrent")
}
