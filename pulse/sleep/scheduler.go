// Package sleep runs the background pass that puts idle functions to sleep.
//
// The scheduler is the only self-triggering actor in warden. Each pass scans ENABLED
// records and applies the auto_sleep trigger to those idle past their sleep policy.
// Critical functions are never put to sleep here; force-sleep is a separate, explicit
// operator command.
package sleep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/telemetry"
)

// Config contains configuration for the sleep scheduler
type Config struct {
	Interval time.Duration // How often to scan for idle functions (default: 5 minutes)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used to measure idleness.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = logger.OrNop(l) }
}

// WithEmitter sets where transition events go.
func WithEmitter(e telemetry.Emitter) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithChangeHook registers fn to be called after a pass that changed any record.
func WithChangeHook(fn func()) Option {
	return func(s *Scheduler) { s.onChange = fn }
}

// Scheduler periodically applies the automatic sleep policy.
type Scheduler struct {
	store    *function.Store
	emitter  telemetry.Emitter
	onChange func()
	now      func() time.Time
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reset  chan struct{}

	mu               sync.Mutex
	interval         time.Duration
	started          bool
	lastPassAt       time.Time
	passesSinceStart int64
	sleptTotal       int64
}

// New creates a scheduler over store.
func New(store *function.Store, cfg Config, opts ...Option) *Scheduler {
	return NewWithContext(context.Background(), store, cfg, opts...)
}

// NewWithContext creates a scheduler whose loop also ends when ctx is cancelled.
func NewWithContext(ctx context.Context, store *function.Store, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	schedCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		store:    store,
		emitter:  telemetry.Nop{},
		onChange: func() {},
		now:      time.Now,
		logger:   logger.OrNop(nil),
		ctx:      schedCtx,
		cancel:   cancel,
		reset:    make(chan struct{}, 1),
		interval: cfg.Interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	interval := s.interval
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Sleep scheduler started", logger.FieldInterval, interval.String())
}

// Stop gracefully stops the scheduler and waits for an in-progress pass to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("Sleep scheduler stopped")
}

// SetInterval changes the pass interval; a running loop picks it up immediately.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	changed := d != s.interval
	s.interval = d
	s.mu.Unlock()

	if !changed {
		return
	}
	select {
	case s.reset <- struct{}{}:
	default:
	}
	s.logger.Infow("Sleep scheduler interval changed", logger.FieldInterval, d.String())
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	s.mu.Lock()
	ticker := time.NewTicker(s.interval)
	s.mu.Unlock()
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.reset:
			s.mu.Lock()
			ticker.Reset(s.interval)
			s.mu.Unlock()
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce performs one pass and returns the transitions it applied.
//
// Eligibility is checked twice: once on the snapshot to skip work, and again inside the
// store update, so a manual wake racing with this pass is never overridden by stale data.
func (s *Scheduler) RunOnce(ctx context.Context) []function.Transition {
	now := s.now()
	var applied []function.Transition

	for _, rec := range s.store.Snapshot() {
		if !function.EligibleForAutoSleep(&rec, now) {
			continue
		}

		var tr function.Transition
		updated, err := s.store.Update(rec.FunctionID, func(r *function.Record) error {
			var err error
			tr, err = function.Apply(r, function.TriggerAutoSleep, now)
			return err
		})
		if err != nil {
			// Unregistered since the snapshot
			s.logger.Debugw("Skipped auto-sleep",
				logger.FieldFunctionID, rec.FunctionID,
				logger.FieldError, err.Error())
			continue
		}
		if !tr.Changed {
			continue
		}

		applied = append(applied, tr)
		s.logger.Infow("Function put to sleep",
			logger.FieldFunctionID, rec.FunctionID,
			logger.FieldIdleFor, rec.IdleFor(now).Round(time.Second).String())
		s.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &updated, now))
	}

	s.mu.Lock()
	s.lastPassAt = now
	s.passesSinceStart++
	s.sleptTotal += int64(len(applied))
	s.mu.Unlock()

	if len(applied) > 0 {
		s.onChange()
	}
	return applied
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"last_pass_at":       s.lastPassAt,
		"passes_since_start": s.passesSinceStart,
		"slept_total":        s.sleptTotal,
		"interval":           s.interval,
	}
}
