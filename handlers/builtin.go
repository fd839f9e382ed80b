// Package handlers provides built-in handlers that functions can reference by handler_ref.
//
// They exist for demos, smoke tests and CLI use; real handlers are bound by the component
// that owns the implementation.
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/pulse/dispatch"
)

const (
	// EchoRef returns its parameters unchanged
	EchoRef = "builtin.echo"
	// DelayRef sleeps for params["ms"] milliseconds, honoring cancellation
	DelayRef = "builtin.delay"
)

// maxDelay bounds builtin.delay so a typo cannot park a slot for hours
const maxDelay = 10 * time.Minute

// All returns every built-in handler keyed by ref.
func All() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		EchoRef:  dispatch.HandlerFunc(Echo),
		DelayRef: dispatch.HandlerFunc(Delay),
	}
}

// ProvideAll passes every built-in handler to provide, for example Manager.ProvideHandler.
func ProvideAll(provide func(ref string, h dispatch.Handler)) {
	for ref, h := range All() {
		provide(ref, h)
	}
}

// Echo returns a copy of params.
func Echo(_ context.Context, params dispatch.Params) (any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}

// Delay waits params["ms"] milliseconds and reports how long it slept.
// A set params["fail"] makes it return a failure after the delay.
func Delay(ctx context.Context, params dispatch.Params) (any, error) {
	ms, err := millis(params["ms"])
	if err != nil {
		return nil, err
	}
	if ms > maxDelay.Milliseconds() {
		return nil, errors.NewInvalidRequestError("delay of %dms exceeds the %s limit", ms, maxDelay)
	}
	d := time.Duration(ms) * time.Millisecond

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if msg, ok := params["fail"]; ok && msg != nil && msg != false {
		return nil, errors.Newf("delay handler asked to fail: %v", msg)
	}
	return map[string]any{"slept_ms": ms}, nil
}

// millis reads a millisecond count from a decoded JSON or flag value.
func millis(v any) (int64, error) {
	var ms int64
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		ms = int64(n)
	case int64:
		ms = n
	case float64:
		ms = int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, errors.NewInvalidRequestError("ms must be a number, got %q", n)
		}
		ms = parsed
	default:
		return 0, errors.NewInvalidRequestError("ms must be a number, got %T", v)
	}
	if ms < 0 {
		return 0, errors.NewInvalidRequestError("ms must not be negative, got %d", ms)
	}
	return ms, nil
}
