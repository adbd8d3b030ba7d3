package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/normanking/kindred/internal/convo"
	"github.com/normanking/kindred/internal/persona"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _, _ string, _ *genai.Schema) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newTestAnalyzer(reply string, err error) (*Analyzer, *persona.Registry, string) {
	registry := persona.NewRegistry(convo.NewHistoryStore(), zerolog.Nop())
	p := registry.Create("Aria", "Aoede", "")
	analyzer := NewAnalyzer(&fakeGenerator{reply: reply, err: err}, registry, nil, zerolog.Nop())
	return analyzer, registry, p.ID
}

func exchange() []convo.Turn {
	return []convo.Turn{
		{Role: convo.RoleUser, Text: "I just got back from a trip to Lisbon", IsFinal: true},
		{Role: convo.RoleAgent, Text: "Lisbon! How were the hills?", IsFinal: true},
	}
}

func TestUpdateRapport_AppliesClampedScore(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer(`{"rapport": 9000}`, nil)

	analyzer.UpdateRapport(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	assert.Equal(t, persona.RapportMax, p.Rapport)
}

func TestUpdateRapport_SkipsEmptyExchange(t *testing.T) {
	gen := &fakeGenerator{reply: `{"rapport": 700}`}
	registry := persona.NewRegistry(convo.NewHistoryStore(), zerolog.Nop())
	p := registry.Create("Aria", "Aoede", "")
	analyzer := NewAnalyzer(gen, registry, nil, zerolog.Nop())

	analyzer.UpdateRapport(context.Background(), p.ID, nil)
	assert.Zero(t, gen.calls, "empty exchange should never reach the model")

	analyzer.UpdateRapport(context.Background(), "ghost", exchange())
	assert.Zero(t, gen.calls, "unknown persona should never reach the model")
}

func TestUpdateRapport_FailureLeavesScore(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer("", fmt.Errorf("service unavailable"))

	analyzer.UpdateRapport(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	assert.Equal(t, persona.RapportDefault, p.Rapport)
}

func TestUpdateRapport_MalformedReplyLeavesScore(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer("rapport is about 720 I'd say", nil)

	analyzer.UpdateRapport(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	assert.Equal(t, persona.RapportDefault, p.Rapport)
}

func TestSynthesizeJournal_ReplacesDocument(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer(
		`{"summary":"Travels often.","interests":["travel"],"memories":[{"text":"Visited Lisbon","confidence":0.9}]}`, nil)

	registry.SetJournal(id, persona.Journal{Summary: "Old summary."})
	analyzer.SynthesizeJournal(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	assert.Equal(t, "Travels often.", p.Journal.Summary)
	assert.Equal(t, []string{"travel"}, p.Journal.Interests)
	require.Len(t, p.Journal.Memories, 1)
	assert.Equal(t, "Visited Lisbon", p.Journal.Memories[0].Text)
}

func TestExtractMemories_ParsesStructuredReply(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer(
		`{"memories":[{"text":"Visited Lisbon recently","confidence":0.85},{"text":"","confidence":0.4}]}`, nil)

	analyzer.ExtractMemories(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	require.Len(t, p.Journal.Memories, 1, "blank memory texts should be dropped")
	assert.Equal(t, 0.85, p.Journal.Memories[0].Confidence)
}

func TestExtractMemories_MalformedReplyFallsBackToLines(t *testing.T) {
	analyzer, registry, id := newTestAnalyzer(
		"- visited Lisbon recently\n\n- likes steep streets\n", nil)

	analyzer.ExtractMemories(context.Background(), id, exchange())

	p, _ := registry.Get(id)
	require.Len(t, p.Journal.Memories, 2)
	for _, item := range p.Journal.Memories {
		assert.Equal(t, fallbackConfidence, item.Confidence)
	}
	assert.Equal(t, "visited Lisbon recently", p.Journal.Memories[0].Text)
}

func TestDispatcher_RunsJobsInBackground(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		d.Go("test", func(ctx context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, ran)
}

func TestDispatcher_ContainsPanics(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	d.Go("explode", func(ctx context.Context) { panic("boom") })
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not recover from job panic")
	}
}
