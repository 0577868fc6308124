package policy

import (
	"errors"
	"sync"
)

// ErrNoActivePolicy is returned when no policy has been activated.
// Callers must treat it as a denial, never as permission.
var ErrNoActivePolicy = errors.New("no active policy")

// Holder owns the process-wide active policy. Exactly one policy is
// active at a time; reads and swaps are serialized through one mutex
// and the mutable slot is never exposed directly.
type Holder struct {
	mu     sync.Mutex
	active *Policy
}

// NewHolder creates a Holder with the given initial policy (may be nil).
func NewHolder(initial *Policy) *Holder {
	return &Holder{active: initial}
}

// Active returns the current policy, or ErrNoActivePolicy if none is set.
func (h *Holder) Active() (*Policy, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return nil, ErrNoActivePolicy
	}
	return h.active, nil
}

// SetActive replaces the active policy wholesale and returns the
// previous policy for audit purposes (nil if none was set).
func (h *Holder) SetActive(p *Policy) *Policy {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.active
	h.active = p
	return prev
}
