package convo

import (
	"sync"
)

// HistoryStore holds the durable per-persona conversation states. It is the
// single source of truth; the active view is always derived from it. All
// mutations go through the Engine.
type HistoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		states: make(map[string]*ConversationState),
	}
}

// CreateState registers an empty conversation state for a persona. No-op if
// the persona already has one.
func (h *HistoryStore) CreateState(personaID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.states[personaID]; !ok {
		h.states[personaID] = &ConversationState{}
	}
}

// RemoveState destroys a persona's conversation state (persona deletion).
func (h *HistoryStore) RemoveState(personaID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, personaID)
}

// Has reports whether a persona has a registered conversation state.
func (h *HistoryStore) Has(personaID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.states[personaID]
	return ok
}

// Turns returns a copy of a persona's turn sequence, nil if unknown.
func (h *HistoryStore) Turns(personaID string) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.states[personaID]
	if !ok {
		return nil
	}
	return cloneTurns(state.Turns)
}

// UnreadCount returns a persona's unread badge count.
func (h *HistoryStore) UnreadCount(personaID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.states[personaID]
	if !ok {
		return 0
	}
	return state.UnreadCount
}

// PersonaIDs returns the ids of all personas with registered state.
func (h *HistoryStore) PersonaIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.states))
	for id := range h.states {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a deep copy of every conversation state, keyed by persona
// id. Used by the persistence boundary.
func (h *HistoryStore) Snapshot() map[string]ConversationState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]ConversationState, len(h.states))
	for id, state := range h.states {
		out[id] = ConversationState{
			Turns:       cloneTurns(state.Turns),
			UnreadCount: state.UnreadCount,
		}
	}
	return out
}

// Restore replaces all conversation states with a loaded snapshot.
func (h *HistoryStore) Restore(snapshot map[string]ConversationState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.states = make(map[string]*ConversationState, len(snapshot))
	for id, state := range snapshot {
		h.states[id] = &ConversationState{
			Turns:       cloneTurns(state.Turns),
			UnreadCount: state.UnreadCount,
		}
	}
}

// mutate runs fn against a persona's state under the write lock. Returns
// false if the persona is unknown. Engine-only.
func (h *HistoryStore) mutate(personaID string, fn func(*ConversationState)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.states[personaID]
	if !ok {
		return false
	}
	fn(state)
	return true
}
