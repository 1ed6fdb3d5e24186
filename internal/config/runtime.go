package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ReloadListener is told which configuration a reload replaced.
type ReloadListener func(prev, next *Config)

// Runtime holds the live configuration.
//
// Get is lock-free; requests keep the *Config they started with. Apply is the
// only way to change it: the candidate is validated first, so an invalid
// file never replaces a working configuration. Listeners run synchronously
// inside Apply, in registration order, and see reloads in the order they were
// applied.
type Runtime struct {
	current    atomic.Pointer[Config]
	generation atomic.Uint64
	mu         sync.Mutex
	listeners  []ReloadListener
}

// NewRuntime starts a runtime at generation 0 with an already validated config.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.current.Store(initial)
	return r
}

// Get returns the current configuration.
func (r *Runtime) Get() *Config {
	return r.current.Load()
}

// Generation counts successful Apply calls. It moves after the listeners of
// a reload have returned.
func (r *Runtime) Generation() uint64 {
	return r.generation.Load()
}

// OnReload registers a listener. It must not call Apply or OnReload.
func (r *Runtime) OnReload(fn ReloadListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Apply validates next, makes it current and notifies listeners with the
// configuration it replaced. Errors match ErrInvalid and leave the current
// configuration in place.
func (r *Runtime) Apply(next *Config) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("config reload rejected: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Swap(next)
	for _, fn := range r.listeners {
		fn(prev, next)
	}
	r.generation.Add(1)
	return nil
}

var _ RuntimeConfig = (*Runtime)(nil)
