package state

import (
	"sync"

	"github.com/kanapal/kanapal/internal/rules"
)

// Tracker remembers the last dispatched layer so identical focus events do
// not re-send the same layer switch. Side-effect actions are never
// suppressed. One tracker guards the whole dispatch path; a mutex keeps it
// safe if listeners ever deliver from multiple goroutines.
type Tracker struct {
	mu            sync.Mutex
	lastLayer     string
	hasLast       bool
	lastSignature string
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// NeedsLayer reports whether the action's layer differs from the last layer
// actually sent. Actions without a layer never need one.
func (t *Tracker) NeedsLayer(a *rules.Action) bool {
	if a == nil || !a.HasLayer {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.hasLast || t.lastLayer != a.Layer
}

// ShouldDispatch reports whether the action requires any daemon or shell
// activity: a new layer, or one-shot side effects which always fire.
func (t *Tracker) ShouldDispatch(a *rules.Action) bool {
	if a == nil {
		return false
	}
	return a.HasSideEffects() || t.NeedsLayer(a)
}

// Commit records the outcome of a dispatch. lastLayer moves only when a
// layer switch was actually sent; the layer command is fire-and-forget, so
// sending is all the confirmation there is.
func (t *Tracker) Commit(a *rules.Action, layerSent bool) {
	if a == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if layerSent {
		t.lastLayer = a.Layer
		t.hasLast = true
	}
	t.lastSignature = a.Signature()
}

// LastLayer returns the last committed layer, if any.
func (t *Tracker) LastLayer() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLayer, t.hasLast
}

// LastSignature returns the signature of the last dispatched action.
func (t *Tracker) LastSignature() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSignature
}
