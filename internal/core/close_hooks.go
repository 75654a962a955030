package core

import "sync"

// CloseHooks runs its hooks exactly once, in registration order. A hook
// added after Fire runs immediately. The zero value is ready to use.
type CloseHooks struct {
	mu    sync.Mutex
	fired bool
	hooks []func()
}

func (h *CloseHooks) Add(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Fire reports whether this call was the one that ran the hooks.
func (h *CloseHooks) Fire() bool {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return false
	}
	h.fired = true
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return true
}

func (h *CloseHooks) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}
