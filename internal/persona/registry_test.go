package persona

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/kindred/internal/convo"
)

func newTestRegistry() (*Registry, *convo.HistoryStore) {
	history := convo.NewHistoryStore()
	return NewRegistry(history, zerolog.Nop()), history
}

func TestRegistry_CreateAllocatesHistory(t *testing.T) {
	registry, history := newTestRegistry()

	p := registry.Create("Aria", "Aoede", "You are Aria.")
	require.NotEmpty(t, p.ID)
	assert.Equal(t, RapportDefault, p.Rapport)
	assert.True(t, history.Has(p.ID), "persona should get a history slot")

	got, ok := registry.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, "Aria", got.Name)
}

func TestRegistry_DeleteRemovesHistory(t *testing.T) {
	registry, history := newTestRegistry()

	p := registry.Create("Miles", "Charon", "You are Miles.")
	require.NoError(t, registry.Delete(p.ID))

	_, ok := registry.Get(p.ID)
	assert.False(t, ok)
	assert.False(t, history.Has(p.ID), "history slot should be removed with the persona")

	assert.Error(t, registry.Delete(p.ID), "second delete should report unknown persona")
}

func TestRegistry_SetRapportClamps(t *testing.T) {
	registry, _ := newTestRegistry()
	p := registry.Create("Aria", "Aoede", "")

	registry.SetRapport(p.ID, 5000)
	got, _ := registry.Get(p.ID)
	assert.Equal(t, RapportMax, got.Rapport)

	registry.SetRapport(p.ID, -10)
	got, _ = registry.Get(p.ID)
	assert.Equal(t, RapportMin, got.Rapport)

	// Unknown ids are dropped silently.
	registry.SetRapport("ghost", 700)
}

func TestRegistry_SetJournalReplacesWholesale(t *testing.T) {
	registry, _ := newTestRegistry()
	p := registry.Create("Aria", "Aoede", "")

	registry.SetJournal(p.ID, Journal{
		Summary:  "Likes hiking.",
		Memories: []MemoryItem{{Text: "Has a dog named Pepper", Confidence: 0.9}},
	})
	registry.SetJournal(p.ID, Journal{Summary: "Prefers quiet evenings."})

	got, _ := registry.Get(p.ID)
	assert.Equal(t, "Prefers quiet evenings.", got.Journal.Summary)
	assert.Empty(t, got.Journal.Memories, "replacement journal should not merge with the old one")
	assert.WithinDuration(t, time.Now(), got.Journal.UpdatedAt, time.Second)
}

func TestRegistry_AddMemoriesAppends(t *testing.T) {
	registry, _ := newTestRegistry()
	p := registry.Create("Aria", "Aoede", "")

	registry.AddMemories(p.ID, []MemoryItem{{Text: "Works nights", Confidence: 0.8}})
	registry.AddMemories(p.ID, []MemoryItem{{Text: "lives near the coast", Confidence: 0.3}})

	got, _ := registry.Get(p.ID)
	require.Len(t, got.Journal.Memories, 2)
	assert.Equal(t, "Works nights", got.Journal.Memories[0].Text)
}

func TestRegistry_SeedRestoresSnapshot(t *testing.T) {
	registry, history := newTestRegistry()
	registry.Seed(Defaults())

	personas := registry.List()
	require.Len(t, personas, 2)
	for _, p := range personas {
		assert.True(t, history.Has(p.ID))
	}

	// Re-seeding a snapshot with out-of-range rapport clamps it.
	snapshot := registry.Snapshot()
	snapshot[0].Rapport = 99999
	registry.Seed(snapshot)
	got, _ := registry.Get(snapshot[0].ID)
	assert.Equal(t, RapportMax, got.Rapport)
}

func TestClampRapport(t *testing.T) {
	assert.Equal(t, RapportMin, ClampRapport(-1))
	assert.Equal(t, 42, ClampRapport(42))
	assert.Equal(t, RapportMax, ClampRapport(RapportMax+1))
}
