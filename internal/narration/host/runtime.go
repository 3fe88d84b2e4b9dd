package host

import (
	"context"
	"sync"
)

// Binder hands out the live host, creating one if needed.
type Binder interface {
	Bind(ctx context.Context) (*Host, error)
}

// Runtime is the process-wide owner of the host. Clients never hold the host
// beyond a binding; Shutdown tears it down and they observe a lost connection.
type Runtime struct {
	opts Options

	mu      sync.Mutex
	host    *Host
	stopped bool
}

// NewRuntime returns a runtime that builds hosts from opts on demand.
func NewRuntime(opts Options) *Runtime {
	return &Runtime{opts: opts}
}

// Bind returns the live host.
func (r *Runtime) Bind(ctx context.Context) (*Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrRuntimeStopped
	}
	if r.host != nil {
		select {
		case <-r.host.Done():
			r.host = nil
		default:
			return r.host, nil
		}
	}
	r.host = New(r.opts)
	return r.host, nil
}

// Current returns the live host without creating one.
func (r *Runtime) Current() *Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// Shutdown closes the current host. A later Bind creates a fresh one.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	h := r.host
	r.host = nil
	r.mu.Unlock()

	if h != nil {
		h.Close()
	}
}

// Stop shuts the host down and refuses any further binding.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.Shutdown()
}
