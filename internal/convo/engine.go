package convo

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/bus"
)

// Engine is the sole writer for conversation state. Every mutation lands in
// the HistoryStore first; if it concerns the active persona the ActiveView is
// overwritten in the same call, so the two can never be observed out of sync.
type Engine struct {
	mu       sync.Mutex
	history  *HistoryStore
	view     *ActiveView
	activeID string

	eventBus *bus.EventBus
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an engine over the given stores. The event bus may be nil
// for tests that don't observe events.
func NewEngine(history *HistoryStore, view *ActiveView, eventBus *bus.EventBus, logger zerolog.Logger) *Engine {
	return &Engine{
		history:  history,
		view:     view,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "convo").Logger(),
		now:      time.Now,
	}
}

// ActiveID returns the id of the persona whose conversation is rendered, or
// empty if none is selected.
func (e *Engine) ActiveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

// SetActive switches the rendered conversation to the given persona. The view
// is rebuilt from that persona's history at the moment of the switch and its
// unread count is cleared. Unknown personas are a logged no-op.
func (e *Engine) SetActive(personaID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if personaID != "" && !e.history.Has(personaID) {
		e.logger.Warn().Str("persona", personaID).Msg("SetActive for unknown persona, ignoring")
		return
	}

	e.activeID = personaID
	if personaID == "" {
		e.view.set(nil)
		return
	}

	e.history.mutate(personaID, func(state *ConversationState) {
		state.UnreadCount = 0
	})
	e.view.set(e.history.Turns(personaID))

	e.publish(bus.EventTypePersonaSwitched, map[string]any{"persona": personaID})
	e.publish(bus.EventTypeUnreadChanged, map[string]any{"persona": personaID, "count": 0})
}

// Append merges a chunk of content into a persona's history. If the trailing
// turn has the same role and is still open the chunk extends it; otherwise a
// new trailing turn is created. Unknown personas are a logged no-op (caller
// bug, not a runtime condition).
func (e *Engine) Append(personaID string, role Role, chunk string, fin Finality) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := e.history.mutate(personaID, func(state *ConversationState) {
		n := len(state.Turns)
		if n > 0 && state.Turns[n-1].Role == role && !state.Turns[n-1].IsFinal {
			turn := &state.Turns[n-1]
			turn.Text += chunk
			turn.Timestamp = e.now()
			switch fin {
			case SealTurn:
				turn.IsFinal = true
			case OpenTurn:
				turn.IsFinal = false
			}
		} else {
			// A superseded turn becomes immutable: only the trailing turn
			// may ever be open.
			if n > 0 && !state.Turns[n-1].IsFinal {
				state.Turns[n-1].IsFinal = true
			}
			state.Turns = append(state.Turns, Turn{
				Timestamp: e.now(),
				Role:      role,
				Text:      chunk,
				IsFinal:   fin == SealTurn,
			})
		}

		if personaID != e.activeID && role == RoleAgent {
			state.UnreadCount++
		}
	})
	if !ok {
		e.logger.Warn().Str("persona", personaID).Msg("Append for unknown persona, ignoring")
		return
	}

	e.syncViewLocked(personaID)
	e.publish(bus.EventTypeTurnAppended, map[string]any{
		"persona": personaID,
		"role":    string(role),
	})
	if personaID != e.activeID && role == RoleAgent {
		e.publish(bus.EventTypeUnreadChanged, map[string]any{
			"persona": personaID,
			"count":   e.history.UnreadCount(personaID),
		})
	}
}

// Finalize seals the active persona's trailing turn so downstream analysis
// never sees a still-growing turn. Idempotent; a no-op when there is no
// active persona, no turns, or the trailing turn is already sealed.
func (e *Engine) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeID == "" {
		return
	}

	sealed := false
	e.history.mutate(e.activeID, func(state *ConversationState) {
		n := len(state.Turns)
		if n == 0 || state.Turns[n-1].IsFinal {
			return
		}
		state.Turns[n-1].IsFinal = true
		sealed = true
	})
	if !sealed {
		return
	}

	e.syncViewLocked(e.activeID)
	e.publish(bus.EventTypeTurnFinalized, map[string]any{"persona": e.activeID})
}

// UpdateTurn applies updates to the active persona's turn at the given index.
// Reapplying a turn's current reaction removes it. Out-of-range indexes are a
// no-op.
func (e *Engine) UpdateTurn(index int, upd TurnUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeID == "" {
		return
	}

	changed := false
	e.history.mutate(e.activeID, func(state *ConversationState) {
		if index < 0 || index >= len(state.Turns) {
			return
		}
		turn := &state.Turns[index]
		if upd.Text != nil {
			turn.Text = *upd.Text
		}
		if upd.Reaction != nil {
			if turn.Reaction == *upd.Reaction {
				turn.Reaction = ""
			} else {
				turn.Reaction = *upd.Reaction
			}
		}
		changed = true
	})
	if !changed {
		e.logger.Debug().Int("index", index).Msg("UpdateTurn index out of range, ignoring")
		return
	}

	e.syncViewLocked(e.activeID)
	e.publish(bus.EventTypeTurnUpdated, map[string]any{"persona": e.activeID, "index": index})
}

// Clear empties a persona's turn sequence (persona deletion, or leaving a
// live conversation once its journal update has been dispatched).
func (e *Engine) Clear(personaID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := e.history.mutate(personaID, func(state *ConversationState) {
		state.Turns = nil
	})
	if !ok {
		return
	}

	e.syncViewLocked(personaID)
	e.publish(bus.EventTypeHistoryCleared, map[string]any{"persona": personaID})
}

// LastExchange returns the slice from the most recent final user turn through
// the end of the active persona's history: the just-completed exchange that
// rapport analysis operates on. Nil when no final user turn exists.
func (e *Engine) LastExchange() []Turn {
	e.mu.Lock()
	activeID := e.activeID
	e.mu.Unlock()

	if activeID == "" {
		return nil
	}

	turns := e.history.Turns(activeID)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser && turns[i].IsFinal {
			return turns[i:]
		}
	}
	return nil
}

// syncViewLocked overwrites the view when the mutated persona is the active
// one. Caller holds e.mu.
func (e *Engine) syncViewLocked(personaID string) {
	if personaID == e.activeID {
		e.view.set(e.history.Turns(personaID))
	}
}

func (e *Engine) publish(eventType bus.EventType, data map[string]any) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(bus.Event{Type: eventType, Data: data})
}
