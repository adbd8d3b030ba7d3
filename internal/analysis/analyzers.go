package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/normanking/kindred/internal/bus"
	"github.com/normanking/kindred/internal/convo"
	"github.com/normanking/kindred/internal/persona"
)

// fallbackConfidence marks memory items recovered line-by-line from a
// malformed extraction reply.
const fallbackConfidence = 0.2

// Generator is the slice of the brain client the analyzers need.
type Generator interface {
	GenerateJSON(ctx context.Context, systemInstruction, prompt string, schema *genai.Schema) (string, error)
}

// Analyzer owns the three background analyses over a persona registry.
type Analyzer struct {
	generator Generator
	registry  *persona.Registry
	eventBus  *bus.EventBus
	logger    zerolog.Logger
}

// NewAnalyzer creates an analyzer. The event bus may be nil.
func NewAnalyzer(generator Generator, registry *persona.Registry, eventBus *bus.EventBus, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		generator: generator,
		registry:  registry,
		eventBus:  eventBus,
		logger:    logger.With().Str("component", "analysis").Logger(),
	}
}

var rapportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"rapport": {Type: genai.TypeInteger},
	},
	Required: []string{"rapport"},
}

// UpdateRapport rescores the persona's rapport from the latest exchange.
// Empty exchanges and unknown personas are skipped; a failed call leaves the
// current score in place.
func (a *Analyzer) UpdateRapport(ctx context.Context, personaID string, exchange []convo.Turn) {
	if len(exchange) == 0 {
		return
	}
	p, ok := a.registry.Get(personaID)
	if !ok {
		return
	}

	prompt := fmt.Sprintf(
		"Current rapport between you and the user: %d (scale %d-%d).\n"+
			"Re-evaluate it based on this latest exchange and answer with the new score.\n\n%s",
		p.Rapport, persona.RapportMin, persona.RapportMax, renderTurns(exchange))

	raw, err := a.generator.GenerateJSON(ctx, rapportInstruction, prompt, rapportSchema)
	if err != nil {
		a.logger.Warn().Err(err).Str("persona", personaID).Msg("Rapport analysis failed")
		return
	}

	var result struct {
		Rapport int `json:"rapport"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		a.logger.Warn().Err(err).Str("persona", personaID).Msg("Rapport reply was not valid JSON")
		return
	}

	a.registry.SetRapport(personaID, result.Rapport)
	a.publish(bus.EventTypeRapportUpdated, personaID)
	a.logger.Debug().Str("persona", personaID).Int("rapport", persona.ClampRapport(result.Rapport)).Msg("Rapport updated")
}

var journalSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":   {Type: genai.TypeString},
		"interests": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"memories": {Type: genai.TypeArray, Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"text":       {Type: genai.TypeString},
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"text"},
		}},
	},
	Required: []string{"summary"},
}

// SynthesizeJournal rebuilds the persona's journal from the full
// conversation, replacing the previous document wholesale.
func (a *Analyzer) SynthesizeJournal(ctx context.Context, personaID string, turns []convo.Turn) {
	if len(turns) == 0 {
		return
	}
	p, ok := a.registry.Get(personaID)
	if !ok {
		return
	}

	prompt := fmt.Sprintf(
		"Your previous journal about the user:\n%s\n\n"+
			"Rewrite the journal from scratch using everything in this conversation.\n\n%s",
		renderJournal(p.Journal), renderTurns(turns))

	raw, err := a.generator.GenerateJSON(ctx, journalInstruction, prompt, journalSchema)
	if err != nil {
		a.logger.Warn().Err(err).Str("persona", personaID).Msg("Journal synthesis failed")
		return
	}

	var journal persona.Journal
	if err := json.Unmarshal([]byte(raw), &journal); err != nil {
		a.logger.Warn().Err(err).Str("persona", personaID).Msg("Journal reply was not valid JSON")
		return
	}

	a.registry.SetJournal(personaID, journal)
	a.publish(bus.EventTypeJournalUpdated, personaID)
	a.logger.Debug().Str("persona", personaID).Int("memories", len(journal.Memories)).Msg("Journal synthesized")
}

var memorySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"memories": {Type: genai.TypeArray, Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"text":       {Type: genai.TypeString},
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"text", "confidence"},
		}},
	},
	Required: []string{"memories"},
}

// ExtractMemories pulls user facts from the exchange into the persona's
// journal. A malformed reply falls back to treating each non-empty line as a
// low-confidence memory rather than losing the material.
func (a *Analyzer) ExtractMemories(ctx context.Context, personaID string, exchange []convo.Turn) {
	if len(exchange) == 0 {
		return
	}
	if _, ok := a.registry.Get(personaID); !ok {
		return
	}

	raw, err := a.generator.GenerateJSON(ctx, memoryInstruction, renderTurns(exchange), memorySchema)
	if err != nil {
		a.logger.Warn().Err(err).Str("persona", personaID).Msg("Memory extraction failed")
		return
	}

	items := parseMemories(raw)
	if len(items) == 0 {
		return
	}

	a.registry.AddMemories(personaID, items)
	a.publish(bus.EventTypeJournalUpdated, personaID)
	a.logger.Debug().Str("persona", personaID).Int("memories", len(items)).Msg("Memories extracted")
}

// parseMemories decodes the extraction reply, degrading to raw lines with
// fallbackConfidence when the JSON is broken.
func parseMemories(raw string) []persona.MemoryItem {
	var result struct {
		Memories []persona.MemoryItem `json:"memories"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		out := make([]persona.MemoryItem, 0, len(result.Memories))
		for _, item := range result.Memories {
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			out = append(out, item)
		}
		return out
	}

	var items []persona.MemoryItem
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*"))
		if line == "" || line == "{" || line == "}" {
			continue
		}
		items = append(items, persona.MemoryItem{Text: line, Confidence: fallbackConfidence})
	}
	return items
}

func (a *Analyzer) publish(eventType bus.EventType, personaID string) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(bus.Event{Type: eventType, Data: map[string]any{
		"persona": personaID,
	}})
}

// renderTurns flattens turns into a transcript for a prompt. System turns
// are local notices and are excluded.
func renderTurns(turns []convo.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Role == convo.RoleSystem || strings.TrimSpace(turn.Text) == "" {
			continue
		}
		label := "User"
		if turn.Role == convo.RoleAgent {
			label = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, turn.Text)
	}
	return b.String()
}

func renderJournal(j persona.Journal) string {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return "(empty)"
	}
	return string(data)
}

const (
	rapportInstruction = "You maintain a numeric rapport score describing how close you feel to the user. " +
		"Score conservatively; rapport moves in small steps."

	journalInstruction = "You keep a private journal about the user: who they are, what they care about, " +
		"and what has happened between you. Write the full replacement document."

	memoryInstruction = "Extract durable facts about the user from this exchange. " +
		"Only include things worth remembering across conversations."
)
