package pacing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/kindred/internal/convo"
)

func TestSplitMessage_ShortMessageSingleFragment(t *testing.T) {
	input := "  Hey, good to see you again!  "
	fragments := SplitMessage(input)

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if fragments[0].Text != "Hey, good to see you again!" {
		t.Errorf("expected trimmed input, got %q", fragments[0].Text)
	}
}

func TestSplitMessage_EmptyInput(t *testing.T) {
	if got := SplitMessage("   \n  "); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}

func TestSplitMessage_PrefersSentenceBoundary(t *testing.T) {
	first := "That sounds like it was a really long day for you."
	second := "I hope tomorrow gives you a bit more room to breathe, and maybe even a quiet evening to yourself at the end of it."
	fragments := SplitMessage(first + " " + second)

	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}
	if fragments[0].Text != first {
		t.Errorf("expected first fragment to end at sentence boundary:\n got %q\nwant %q", fragments[0].Text, first)
	}
}

func TestSplitMessage_FragmentsWithinBounds(t *testing.T) {
	input := strings.Repeat("every day brings a little more to talk about, ", 12)
	for _, fragment := range SplitMessage(input) {
		n := len([]rune(fragment.Text))
		if n > MaxFragmentLen {
			t.Errorf("fragment exceeds max length (%d): %q", n, fragment.Text)
		}
		if n == 0 {
			t.Error("empty fragment survived")
		}
	}
}

func TestSplitMessage_LosslessModuloWhitespace(t *testing.T) {
	inputs := []string{
		"Short and sweet.",
		strings.Repeat("a few plain words without terminal punctuation marks anywhere to be found ", 6),
		strings.Repeat("One sentence here. Another one follows! And a question? ", 5),
		strings.Repeat("clause, clause, clause, clause, clause, clause, clause, ", 5),
	}
	for _, input := range inputs {
		fragments := SplitMessage(input)
		var parts []string
		for _, fragment := range fragments {
			parts = append(parts, fragment.Text)
		}
		got := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		want := strings.Join(strings.Fields(input), " ")
		if got != want {
			t.Errorf("reconstruction mismatch:\n got %q\nwant %q", got, want)
		}
	}
}

func TestSplitMessage_NoWhitespaceEmitsRemainder(t *testing.T) {
	input := strings.Repeat("x", 400)
	fragments := SplitMessage(input)

	var total int
	for _, fragment := range fragments {
		total += len(fragment.Text)
	}
	if total != 400 {
		t.Errorf("expected all %d chars preserved, got %d across %d fragments", 400, total, len(fragments))
	}
}

func TestRevealDelay_Floor(t *testing.T) {
	if got := RevealDelay("hi"); got != MinRevealDelay {
		t.Errorf("expected floor delay %v, got %v", MinRevealDelay, got)
	}
}

func TestRevealDelay_ScalesWithWords(t *testing.T) {
	long := strings.Repeat("word ", 60)
	if got := RevealDelay(long); got <= MinRevealDelay {
		t.Errorf("expected delay above floor for 60 words, got %v", got)
	}
}

func newRevealTestEngine(ids ...string) (*convo.Engine, *convo.HistoryStore) {
	history := convo.NewHistoryStore()
	for _, id := range ids {
		history.CreateState(id)
	}
	return convo.NewEngine(history, convo.NewActiveView(), nil, zerolog.Nop()), history
}

func TestRevealer_AppendsAllFragmentsAndSealsTurn(t *testing.T) {
	engine, history := newRevealTestEngine("p1")
	engine.SetActive("p1")

	r := NewRevealer(engine, nil, zerolog.Nop())
	r.sleep = func(context.Context, time.Duration) bool { return true }

	reply := strings.Repeat("One sentence here. Another one follows right after it! ", 4)
	if !r.Reveal(context.Background(), "p1", reply) {
		t.Fatal("expected paced reveal to complete")
	}

	turns := history.Turns("p1")
	if len(turns) != 1 {
		t.Fatalf("expected a single agent turn, got %d", len(turns))
	}
	if !turns[0].IsFinal {
		t.Error("expected revealed turn to be sealed")
	}
	got := strings.Join(strings.Fields(turns[0].Text), " ")
	want := strings.Join(strings.Fields(reply), " ")
	if got != want {
		t.Errorf("revealed text mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRevealer_AbandonsPacingOnPersonaSwitch(t *testing.T) {
	engine, history := newRevealTestEngine("p1", "p2")
	engine.SetActive("p1")

	r := NewRevealer(engine, nil, zerolog.Nop())
	slept := 0
	r.sleep = func(context.Context, time.Duration) bool {
		slept++
		// Simulate the user switching personas during the first pause.
		engine.SetActive("p2")
		return true
	}

	reply := strings.Repeat("One sentence here. Another one follows right after it! ", 4)
	if r.Reveal(context.Background(), "p1", reply) {
		t.Fatal("expected reveal to report abandonment")
	}
	if slept != 1 {
		t.Errorf("expected pacing to stop after the switch, slept %d times", slept)
	}

	// History must still be complete for the original persona.
	all := history.Turns("p1")
	if len(all) != 1 {
		t.Fatalf("expected full reply in p1 history, got %d turns", len(all))
	}
	got := strings.Join(strings.Fields(all[0].Text), " ")
	want := strings.Join(strings.Fields(reply), " ")
	if got != want {
		t.Errorf("history incomplete after abandoned reveal:\n got %q\nwant %q", got, want)
	}
}
