package pacing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/bus"
	"github.com/normanking/kindred/internal/convo"
)

// Revealer feeds a paced reply into the conversation engine fragment by
// fragment. If the user switches personas mid-reveal the remaining fragments
// are appended immediately without the typing cadence, so history stays
// complete but the abandoned reveal is no longer performed.
type Revealer struct {
	engine   *convo.Engine
	eventBus *bus.EventBus
	logger   zerolog.Logger
	sleep    func(context.Context, time.Duration) bool

	// OnFragment fires for each fragment revealed at pace, after it lands in
	// history. It stops firing once the reveal is abandoned.
	OnFragment func(text string)
}

// NewRevealer creates a revealer over the engine. The event bus may be nil.
func NewRevealer(engine *convo.Engine, eventBus *bus.EventBus, logger zerolog.Logger) *Revealer {
	return &Revealer{
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "pacing").Logger(),
		sleep:    sleepCtx,
	}
}

// Reveal appends a completed agent reply to the given persona's history with
// typing-cadence pauses between fragments. The final fragment seals the turn.
// Returns false if the reveal was abandoned (persona switched or context
// cancelled); the appends still complete either way.
func (r *Revealer) Reveal(ctx context.Context, personaID, reply string) bool {
	fragments := SplitMessage(reply)
	if len(fragments) == 0 {
		return true
	}

	r.publish(bus.EventTypeRevealStarted, personaID, len(fragments))

	paced := true
	for i, fragment := range fragments {
		if paced && r.engine.ActiveID() != personaID {
			// The user moved on: drop the cadence and the thinking
			// indicator, but keep appending so history stays whole.
			r.logger.Debug().Str("persona", personaID).Msg("active persona changed mid-reveal")
			r.publish(bus.EventTypeRevealAbandoned, personaID, len(fragments)-i)
			paced = false
		}
		if paced && !r.sleep(ctx, fragment.Delay) {
			r.publish(bus.EventTypeRevealAbandoned, personaID, len(fragments)-i)
			paced = false
		}

		fin := convo.KeepFinality
		if i == len(fragments)-1 {
			fin = convo.SealTurn
		}
		r.engine.Append(personaID, convo.RoleAgent, fragmentChunk(i, fragment.Text), fin)
		if paced && r.OnFragment != nil {
			r.OnFragment(fragment.Text)
		}
	}
	return paced
}

// fragmentChunk re-inserts the single space collapsed at each cut point so
// extended turns read naturally.
func fragmentChunk(index int, text string) string {
	if index == 0 {
		return text
	}
	return " " + text
}

func (r *Revealer) publish(eventType bus.EventType, personaID string, remaining int) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(bus.Event{Type: eventType, Data: map[string]any{
		"persona":   personaID,
		"fragments": remaining,
	}})
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
