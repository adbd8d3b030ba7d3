// Package persona manages the companion personas: identity, voice, rapport
// score, and the journal each persona keeps about the user.
package persona

import (
	"time"
)

// Rapport bounds. Scores from analysis are clamped into this range.
const (
	RapportMin     = 0
	RapportMax     = 1000
	RapportDefault = 500
)

// Persona is one configurable companion identity.
type Persona struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	VoiceName         string    `json:"voiceName"`
	SystemInstruction string    `json:"systemInstruction"`
	Rapport           int       `json:"rapport"`
	Journal           Journal   `json:"journal"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Journal is the structured profile document a persona maintains about the
// user, replaced wholesale by journal synthesis.
type Journal struct {
	Summary   string       `json:"summary,omitempty"`
	Interests []string     `json:"interests,omitempty"`
	Memories  []MemoryItem `json:"memories,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt,omitempty"`
}

// MemoryItem is one extracted fact about the user. Confidence is low for
// items recovered from a malformed extraction reply.
type MemoryItem struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ClampRapport forces a score into the valid range.
func ClampRapport(score int) int {
	if score < RapportMin {
		return RapportMin
	}
	if score > RapportMax {
		return RapportMax
	}
	return score
}

// Defaults returns the built-in persona set used on first run.
func Defaults() []Persona {
	now := time.Now()
	return []Persona{
		{
			ID:        "aria",
			Name:      "Aria",
			VoiceName: "Aoede",
			SystemInstruction: "You are Aria, a warm and curious companion. " +
				"You remember what the user tells you and ask gentle follow-up questions.",
			Rapport:   RapportDefault,
			CreatedAt: now,
		},
		{
			ID:        "miles",
			Name:      "Miles",
			VoiceName: "Charon",
			SystemInstruction: "You are Miles, a dry-witted but caring companion. " +
				"You keep answers short and honest.",
			Rapport:   RapportDefault,
			CreatedAt: now,
		},
	}
}
