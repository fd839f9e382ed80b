// Package manager is the administrative surface of warden.
//
// A Manager owns the record store and wires the registry file, the execution dispatcher,
// the sleep scheduler, the query facade and the telemetry pipeline around it. Construct
// one per process with New and pass it to callers; Default exists for tools that need a
// process-wide instance.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/pulse/sleep"
	"github.com/teranos/warden/query"
	"github.com/teranos/warden/registry"
	"github.com/teranos/warden/telemetry"
)

// Manager coordinates the lifecycle of every registered function.
type Manager struct {
	opts    Options
	now     func() time.Time
	logger  *zap.SugaredLogger
	emitter telemetry.Emitter

	store      *function.Store
	handlers   *dispatch.HandlerRegistry
	dispatcher *dispatch.Dispatcher
	scheduler  *sleep.Scheduler
	query      *query.Facade

	file    *registry.FileStore // nil when running without a registry file
	flusher *registry.Flusher
	loadErr error

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a manager and loads its registry.
//
// A registry that cannot be read or parsed does not fail New: the manager starts empty,
// logs the failure and reports it from LoadError. Background work starts with Start.
func New(opts Options) (*Manager, error) {
	if opts.Dispatch.MaxConcurrent <= 0 {
		return nil, errors.NewInvalidRequestError("dispatch max_concurrent must be > 0, got %d", opts.Dispatch.MaxConcurrent)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ManagerVersion == "" {
		opts.ManagerVersion = am.DefaultConfig().Manager.Version
	}
	for _, spec := range opts.Defaults {
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid default function %s", spec.FunctionID)
		}
	}

	log := logger.OrNop(opts.Logger)
	emitter := telemetry.Multi{telemetry.NewLogEmitter(log)}
	if opts.Emitter != nil {
		emitter = append(emitter, opts.Emitter)
	}

	m := &Manager{
		opts:     opts,
		now:      opts.Clock,
		logger:   log.Named("manager"),
		emitter:  emitter,
		store:    function.NewStore(),
		handlers: dispatch.NewHandlerRegistry(),
	}

	m.dispatcher = dispatch.New(m.store, m.handlers, opts.Dispatch,
		dispatch.WithClock(m.now),
		dispatch.WithLogger(log.Named("dispatch")),
		dispatch.WithEmitter(m.emitter),
		dispatch.WithChangeHook(m.markDirty),
	)
	m.scheduler = sleep.New(m.store, sleep.Config{Interval: opts.SleepCheckInterval},
		sleep.WithClock(m.now),
		sleep.WithLogger(log.Named("sleep")),
		sleep.WithEmitter(m.emitter),
		sleep.WithChangeHook(m.markDirty),
	)
	m.query = query.New(m.store).WithClock(m.now)

	m.load(log)
	return m, nil
}

// load reads the registry file, merges code defaults and fills the store.
func (m *Manager) load(log *zap.SugaredLogger) {
	doc := registry.NewDocument()
	if m.opts.RegistryPath != "" {
		m.file = registry.NewFileStore(m.opts.RegistryPath,
			registry.WithBackups(m.opts.Backups),
			registry.WithLogger(log.Named("registry")),
			registry.WithClock(m.now),
		)
		loaded, err := m.file.Load()
		if err != nil {
			m.loadErr = err
			m.logger.Errorw("Registry could not be loaded, starting with an empty store",
				logger.FieldPath, m.opts.RegistryPath,
				logger.FieldError, err.Error())
		}
		doc = loaded
	}

	records := registry.Merge(m.opts.Defaults, doc.Functions, m.now())
	m.store.ReplaceAll(records)

	if m.file != nil {
		m.flusher = registry.NewFlusher(m.file, m.store, doc, m.opts.FlushDelay, log.Named("registry"))
		m.flusher.OnFailure(m.persistenceFailed)
		if len(m.opts.Defaults) > 0 || m.loadErr != nil {
			// New defaults and a fresh file after quarantine are written out promptly
			m.markDirty()
		}
	}

	m.logger.Infow("Function manager ready",
		logger.FieldCount, len(records),
		"defaults", len(m.opts.Defaults))
}

// persistenceFailed turns a failed save into an observability event. The calling
// operation already succeeded in memory and is not affected.
func (m *Manager) persistenceFailed(err error) {
	m.emitter.Emit(context.Background(), telemetry.Event{
		ID:        uuid.NewString(),
		EventType: telemetry.EventPersistenceFailure,
		Timestamp: m.now(),
	}.WithError(errors.Mark(err, errors.ErrPersistence)))
}

// markDirty schedules a registry write.
func (m *Manager) markDirty() {
	if m.flusher != nil {
		m.flusher.MarkDirty()
	}
}

// Start launches the sleep scheduler when it is enabled. Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("manager is closed")
	}
	if m.started {
		return nil
	}
	m.started = true

	if m.opts.SchedulerEnabled {
		m.scheduler.Start()
	} else {
		m.logger.Infow("Sleep scheduler disabled")
	}
	return nil
}

// Close stops the scheduler and writes any pending registry changes.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if started && m.opts.SchedulerEnabled {
		m.scheduler.Stop()
	}
	if m.flusher != nil {
		if err := m.flusher.Stop(); err != nil {
			return errors.Wrap(err, "final registry save failed")
		}
	}
	m.logger.Infow("Function manager stopped")
	return nil
}

// LoadError returns the error encountered while loading the registry, if any.
func (m *Manager) LoadError() error {
	return m.loadErr
}

// Flush writes pending registry changes now.
func (m *Manager) Flush() error {
	if m.flusher == nil {
		return nil
	}
	return m.flusher.Flush()
}

// Register adds a function.
//
// It returns true when a new record was created. An existing function_id fails with
// ErrDuplicateID unless WithOverwrite is given, in which case the metadata is replaced
// and false is returned.
func (m *Manager) Register(ctx context.Context, spec function.Spec, opts ...RegisterOption) (bool, error) {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := spec.Validate(); err != nil {
		return false, err
	}
	if err := spec.CheckCompatibility(m.opts.ManagerVersion); err != nil {
		return false, err
	}

	now := m.now()
	rec := function.NewRecord(spec, now)
	err := m.store.Insert(rec)
	switch {
	case err == nil:
		if o.handler != nil {
			m.handlers.Bind(spec.FunctionID, o.handler)
		}
		m.logger.Infow("Function registered",
			logger.FieldFunctionID, spec.FunctionID,
			logger.FieldStatus, string(rec.Status),
			logger.FieldCritical, rec.IsCritical)
		m.emitter.Emit(ctx, telemetry.NewEvent(telemetry.EventRegistered, &rec, now))
		m.markDirty()
		return true, nil

	case !errors.Is(err, errors.ErrDuplicateID) || !o.overwrite:
		return false, err
	}

	if _, err := m.store.Update(spec.FunctionID, func(r *function.Record) error {
		r.ApplySpec(spec, now)
		return nil
	}); err != nil {
		// Unregistered between the insert attempt and the update
		return false, err
	}
	if o.handler != nil {
		m.handlers.Bind(spec.FunctionID, o.handler)
	}
	m.logger.Infow("Function metadata replaced", logger.FieldFunctionID, spec.FunctionID)
	m.markDirty()
	return false, nil
}

// Unregister removes a function and its handler binding from memory and from the registry
// file, including an entry the file holds that could not be decoded. Returns false if it was absent.
func (m *Manager) Unregister(ctx context.Context, functionID string) bool {
	rec, ok := m.store.Get(functionID)
	deleted := ok && m.store.Delete(functionID)
	forgotten := m.flusher != nil && m.flusher.Forget(functionID)
	if !deleted && !forgotten {
		return false
	}
	if !deleted {
		rec = function.Record{FunctionID: functionID}
	}
	m.handlers.Unbind(functionID)

	m.logger.Infow("Function unregistered", logger.FieldFunctionID, functionID)
	m.emitter.Emit(ctx, telemetry.NewEvent(telemetry.EventUnregistered, &rec, m.now()))
	m.markDirty()
	return true
}

// Get returns a copy of the function's record.
func (m *Manager) Get(functionID string) (function.Record, bool) {
	return m.store.Get(functionID)
}

// RegisterHandler binds h directly to a function, taking precedence over its handler_ref.
func (m *Manager) RegisterHandler(functionID string, h dispatch.Handler) {
	m.handlers.Bind(functionID, h)
}

// ProvideHandler makes h resolvable by handler_ref. Providing the same ref twice panics.
func (m *Manager) ProvideHandler(ref string, h dispatch.Handler) {
	m.handlers.Provide(ref, h)
}

// Execute runs the function's handler. See dispatch.Dispatcher.Execute for the rules.
func (m *Manager) Execute(ctx context.Context, functionID string, params dispatch.Params) (dispatch.Result, error) {
	ctx = logger.WithFunctionID(ctx, functionID)
	return m.dispatcher.Execute(ctx, functionID, params)
}

// SleepPass runs one automatic sleep pass immediately.
func (m *Manager) SleepPass(ctx context.Context) []function.Transition {
	return m.scheduler.RunOnce(ctx)
}

// ApplyConfig applies the settings that can change while running: the sleep interval,
// the dispatcher timeouts and the error policy. Everything else needs a restart.
func (m *Manager) ApplyConfig(cfg *am.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.scheduler.SetInterval(cfg.SleepCheckInterval())
	m.dispatcher.SetPolicy(cfg.QueueTimeout(), cfg.CallTimeout(), errorPolicy(cfg))

	if int64(cfg.Dispatcher.MaxConcurrent) != m.opts.Dispatch.MaxConcurrent {
		m.logger.Warnw("dispatcher.max_concurrent changes need a restart",
			"configured", cfg.Dispatcher.MaxConcurrent,
			"running", m.opts.Dispatch.MaxConcurrent)
	}
	m.logger.Infow("Configuration applied",
		logger.FieldInterval, cfg.SleepCheckInterval().String(),
		"call_timeout", cfg.CallTimeout().String())
	return nil
}
