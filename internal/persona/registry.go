package persona

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/convo"
)

// Registry owns the persona set. Creating or deleting a persona keeps the
// conversation history store in step, so every registered persona always has
// a history slot and nothing else does.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]*Persona
	history  *convo.HistoryStore
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry bound to the history store.
func NewRegistry(history *convo.HistoryStore, logger zerolog.Logger) *Registry {
	return &Registry{
		personas: make(map[string]*Persona),
		history:  history,
		logger:   logger.With().Str("component", "persona").Logger(),
	}
}

// Seed installs the given personas, typically Defaults() on first run or a
// restored snapshot afterwards. Existing entries with the same id are
// replaced.
func (r *Registry) Seed(personas []Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range personas {
		p := personas[i]
		p.Rapport = ClampRapport(p.Rapport)
		r.personas[p.ID] = &p
		if !r.history.Has(p.ID) {
			r.history.CreateState(p.ID)
		}
	}
}

// Create registers a new persona and allocates its conversation history.
func (r *Registry) Create(name, voiceName, systemInstruction string) Persona {
	p := Persona{
		ID:                uuid.NewString(),
		Name:              name,
		VoiceName:         voiceName,
		SystemInstruction: systemInstruction,
		Rapport:           RapportDefault,
		CreatedAt:         time.Now(),
	}

	r.mu.Lock()
	r.personas[p.ID] = &p
	r.mu.Unlock()

	r.history.CreateState(p.ID)
	r.logger.Info().Str("persona", p.ID).Str("name", name).Msg("Persona created")
	return p
}

// Get returns a copy of the persona, or false if unknown.
func (r *Registry) Get(id string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[id]
	if !ok {
		return Persona{}, false
	}
	return *p, true
}

// List returns all personas ordered by creation time, ties broken by name.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Delete removes a persona and its conversation history.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.personas[id]
	delete(r.personas, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown persona %q", id)
	}

	r.history.RemoveState(id)
	r.logger.Info().Str("persona", id).Msg("Persona deleted")
	return nil
}

// SetRapport stores a clamped rapport score for the persona. Unknown ids are
// ignored so a stale background analysis can't resurrect a deleted persona.
func (r *Registry) SetRapport(id string, score int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.personas[id]
	if !ok {
		r.logger.Debug().Str("persona", id).Msg("Rapport update for unknown persona, dropping")
		return
	}
	p.Rapport = ClampRapport(score)
}

// SetJournal replaces the persona's journal document wholesale and stamps it.
func (r *Registry) SetJournal(id string, journal Journal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.personas[id]
	if !ok {
		r.logger.Debug().Str("persona", id).Msg("Journal update for unknown persona, dropping")
		return
	}
	journal.UpdatedAt = time.Now()
	p.Journal = journal
}

// AddMemories appends extracted memory items to the persona's journal.
func (r *Registry) AddMemories(id string, items []MemoryItem) {
	if len(items) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.personas[id]
	if !ok {
		return
	}
	p.Journal.Memories = append(p.Journal.Memories, items...)
	p.Journal.UpdatedAt = time.Now()
}

// Snapshot returns a deep copy of the persona set for persistence.
func (r *Registry) Snapshot() []Persona {
	return r.List()
}
