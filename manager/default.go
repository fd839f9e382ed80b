package manager

import (
	"sync"

	"github.com/teranos/warden/errors"
)

// Process-wide instance for tools that cannot have a Manager passed to them.
var (
	defaultManager *Manager
	defaultErr     error
	defaultOnce    sync.Once
	defaultMu      sync.RWMutex
)

// SetDefault installs m as the process-wide manager.
// It panics if a default is already set, including one created lazily by Default.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		panic("default manager already initialized - call SetDefault only once")
	}
	defaultManager = m
}

// Default returns the process-wide manager. If SetDefault was not called first, a
// manager built from DefaultOptions is created on first use.
func Default() (*Manager, error) {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultManager == nil {
			defaultManager, defaultErr = New(DefaultOptions())
		}
	})

	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultManager == nil {
		return nil, errors.Wrap(defaultErr, "default manager unavailable")
	}
	return defaultManager, nil
}

// resetDefault clears the process-wide manager; tests only.
func resetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = nil
	defaultErr = nil
	defaultOnce = sync.Once{}
}
