// Package storage persists the application snapshot: the persona set and
// every persona's conversation state, saved and loaded as one document.
package storage

import (
	"github.com/normanking/kindred/internal/convo"
	"github.com/normanking/kindred/internal/persona"
)

// SnapshotID is the fixed key the single application snapshot lives under.
const SnapshotID = "kindred"

// Snapshot is the full persisted state. Timestamps round-trip as RFC 3339
// through the JSON codec.
type Snapshot struct {
	Personas      []persona.Persona                  `json:"personas"`
	Conversations map[string]convo.ConversationState `json:"conversations"`
}

// Store is the persistence boundary. Load returns ok=false when no snapshot
// has ever been saved, which callers treat as a first run.
type Store interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
	Close() error
}
