package convo

import (
	"sync"
)

// ActiveView mirrors the active persona's turn sequence for whatever surface
// renders the conversation. It is a pure projection: the engine overwrites it
// synchronously whenever the persistent store changes for the active persona,
// and nothing else may write to it.
type ActiveView struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewActiveView creates an empty view.
func NewActiveView() *ActiveView {
	return &ActiveView{}
}

// Turns returns a copy of the currently rendered turn sequence.
func (v *ActiveView) Turns() []Turn {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneTurns(v.turns)
}

// Len returns the number of turns in the view.
func (v *ActiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.turns)
}

// set overwrites the view with a new sequence. Engine-only.
func (v *ActiveView) set(turns []Turn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.turns = cloneTurns(turns)
}
