package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
)

// Params is the opaque call payload handed to a handler.
type Params map[string]any

// Handler is the capability object behind a managed function.
// The manager never inspects what a handler does; it only invokes it and
// captures success or failure.
//
// Context cancellation: handlers MUST return promptly once ctx is done.
// A handler that ignores ctx keeps its concurrency slot until it returns.
type Handler interface {
	Invoke(ctx context.Context, params Params) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params Params) (any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, params Params) (any, error) {
	return f(ctx, params)
}

// HandlerRegistry maps functions to typed handlers.
// Thread-safe for concurrent registration and lookup.
//
// Handlers are found two ways:
//   - bound directly to a function_id by the component that owns the implementation
//   - provided under a handler_ref name, which records reference through their handler_ref field
//
// A direct binding wins over a handler_ref.
type HandlerRegistry struct {
	byFunction map[string]Handler // function_id -> handler
	byRef      map[string]Handler // handler_ref -> handler
	mu         sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		byFunction: make(map[string]Handler),
		byRef:      make(map[string]Handler),
	}
}

// Bind attaches h to functionID, replacing any previous binding.
func (r *HandlerRegistry) Bind(functionID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFunction[functionID] = h
}

// Unbind removes the direct binding for functionID.
func (r *HandlerRegistry) Unbind(functionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byFunction, functionID)
}

// Provide registers h under a handler_ref name.
// Panics if a handler is already provided under that name.
func (r *HandlerRegistry) Provide(ref string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRef[ref]; exists {
		panic(fmt.Sprintf("handler already provided for ref: %s", ref))
	}
	r.byRef[ref] = h
}

// Has checks if a handler is provided under ref.
func (r *HandlerRegistry) Has(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.byRef[ref]
	return exists
}

// Refs returns all provided handler_ref names, sorted.
func (r *HandlerRegistry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Resolve finds the handler for rec.
// Returns an ErrHandlerResolution error when neither a binding nor the handler_ref matches.
func (r *HandlerRegistry) Resolve(rec *function.Record) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.byFunction[rec.FunctionID]; ok {
		return h, nil
	}
	if rec.HandlerRef == "" {
		err := errors.Mark(errors.Newf("no handler bound for function %s", rec.FunctionID), errors.ErrHandlerResolution)
		return nil, errors.WithHint(err, "bind a handler at startup or set handler_ref")
	}
	if h, ok := r.byRef[rec.HandlerRef]; ok {
		return h, nil
	}
	err := errors.Mark(errors.Newf("handler_ref %q of function %s is not provided", rec.HandlerRef, rec.FunctionID), errors.ErrHandlerResolution)
	return nil, errors.WithHintf(err, "known handler refs: %v", r.refsLocked())
}

func (r *HandlerRegistry) refsLocked() []string {
	refs := make([]string, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
