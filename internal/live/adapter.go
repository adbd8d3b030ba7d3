package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/bus"
	"github.com/normanking/kindred/internal/convo"
)

// SessionState tracks the adapter lifecycle.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateConnected  SessionState = "connected"
)

// Adapter binds one streaming voice session to the conversation engine.
// Input transcription extends the user's open turn, output transcription and
// content extend the agent's, and turn completion seals the exchange and
// hands it to the analysis hooks.
type Adapter struct {
	engine   *convo.Engine
	client   StreamClient
	sink     PlaybackSink
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu        sync.Mutex
	state     SessionState
	personaID string

	// OnTurnComplete fires after each sealed exchange, OnSessionEnd after a
	// connected session closes. Both run outside the adapter lock.
	OnTurnComplete func(personaID string)
	OnSessionEnd   func(personaID string)
}

// NewAdapter creates an idle session adapter.
func NewAdapter(engine *convo.Engine, client StreamClient, sink PlaybackSink, eventBus *bus.EventBus, logger zerolog.Logger) *Adapter {
	return &Adapter{
		engine:   engine,
		client:   client,
		sink:     sink,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "live").Logger(),
		state:    StateIdle,
	}
}

// State returns the current session state.
func (a *Adapter) State() SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start opens a streaming session for the persona. Only one session runs at
// a time; any prior session is torn down first.
func (a *Adapter) Start(ctx context.Context, personaID string, cfg SessionConfig) error {
	a.Stop()

	a.mu.Lock()
	a.state = StateConnecting
	a.personaID = personaID
	a.mu.Unlock()

	a.publish(bus.EventTypeSessionConnecting, personaID)

	err := a.client.Connect(ctx, cfg, Handlers{
		OnOpen:                a.handleOpen,
		OnClose:               a.handleClose,
		OnInterrupted:         a.handleInterrupted,
		OnAudio:               a.handleAudio,
		OnInputTranscription:  a.handleInputTranscription,
		OnOutputTranscription: a.handleOutputTranscription,
		OnContent:             a.handleContent,
		OnTurnComplete:        a.handleTurnComplete,
	})
	if err != nil {
		a.mu.Lock()
		a.state = StateIdle
		a.personaID = ""
		a.mu.Unlock()
		return fmt.Errorf("failed to open live session: %w", err)
	}
	return nil
}

// SendAudio forwards captured microphone audio into the session.
func (a *Adapter) SendAudio(pcm []byte) error {
	a.mu.Lock()
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected {
		return fmt.Errorf("no live session")
	}
	return a.client.SendAudio(pcm)
}

// Stop closes the session. A no-op when already idle, so a stray close from
// the transport never double-fires the session-end work.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.state == StateIdle {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := a.client.Disconnect(); err != nil {
		a.logger.Warn().Err(err).Msg("Live session disconnect failed")
	}
	a.finish(nil)
}

func (a *Adapter) handleOpen() {
	a.mu.Lock()
	a.state = StateConnected
	personaID := a.personaID
	a.mu.Unlock()

	a.logger.Info().Str("persona", personaID).Msg("Live session connected")
	a.publish(bus.EventTypeSessionConnected, personaID)
}

func (a *Adapter) handleClose(err error) {
	if err != nil {
		a.logger.Warn().Err(err).Msg("Live session closed with error")
	}
	a.finish(err)
}

// finish transitions to idle exactly once per session and runs the
// session-end hook.
func (a *Adapter) finish(err error) {
	a.mu.Lock()
	if a.state == StateIdle {
		a.mu.Unlock()
		return
	}
	personaID := a.personaID
	a.state = StateIdle
	a.personaID = ""
	a.mu.Unlock()

	a.sink.Stop()
	a.engine.Finalize()
	a.publish(bus.EventTypeSessionClosed, personaID)

	if a.OnSessionEnd != nil {
		a.OnSessionEnd(personaID)
	}
}

// handleInterrupted cuts playback when the user talks over the model. The
// transcribed turns already in history stay exactly as they are.
func (a *Adapter) handleInterrupted() {
	a.sink.Stop()
	a.publish(bus.EventTypeSessionInterrupted, a.currentPersona())
}

func (a *Adapter) handleAudio(pcm []byte) {
	a.sink.Play(pcm)
}

func (a *Adapter) handleInputTranscription(text string, finished bool) {
	personaID := a.currentPersona()
	if personaID == "" || text == "" {
		return
	}
	a.engine.Append(personaID, convo.RoleUser, text, finality(finished))
}

func (a *Adapter) handleOutputTranscription(text string, finished bool) {
	personaID := a.currentPersona()
	if personaID == "" || text == "" {
		return
	}
	a.engine.Append(personaID, convo.RoleAgent, text, finality(finished))
}

// handleContent merges model text parts into the agent's open turn; the
// trailing turn stays open until the model reports turn completion.
func (a *Adapter) handleContent(text string) {
	personaID := a.currentPersona()
	if personaID == "" || text == "" {
		return
	}
	a.engine.Append(personaID, convo.RoleAgent, text, convo.KeepFinality)
}

func (a *Adapter) handleTurnComplete() {
	personaID := a.currentPersona()
	if personaID == "" {
		return
	}

	a.engine.Finalize()
	if a.OnTurnComplete != nil {
		a.OnTurnComplete(personaID)
	}
}

func (a *Adapter) currentPersona() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.personaID
}

func (a *Adapter) publish(eventType bus.EventType, personaID string) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(bus.Event{Type: eventType, Data: map[string]any{
		"persona": personaID,
	}})
}

func finality(finished bool) convo.Finality {
	if finished {
		return convo.SealTurn
	}
	return convo.KeepFinality
}
