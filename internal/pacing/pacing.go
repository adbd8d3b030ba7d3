// Package pacing splits completed replies into human-cadence fragments and
// computes the reveal delay for each, so text-mode exchanges read like a
// person typing rather than a single wall of text.
package pacing

import (
	"strings"
	"time"
	"unicode"
)

const (
	// ShortMessageThreshold is the length under which a reply is delivered
	// as a single fragment.
	ShortMessageThreshold = 140
	// MaxFragmentLen bounds every fragment.
	MaxFragmentLen = 140
	// MinFragmentLen avoids degenerate tiny fragments at punctuation cuts.
	MinFragmentLen = 20
	// IdealFragmentLen is the target length for whitespace-boundary cuts.
	IdealFragmentLen = 80

	// WordsPerMinute approximates a typing rate for reveal delays.
	WordsPerMinute = 200
	// MinRevealDelay pauses briefly even for single-word fragments.
	MinRevealDelay = 400 * time.Millisecond
)

var sentenceTerminals = []rune{'.', '!', '?', '…', '—'}

// Fragment is one reveal unit: its text and how long to wait before showing it.
type Fragment struct {
	Text  string
	Delay time.Duration
}

// SplitMessage breaks a completed reply into ordered reveal fragments.
// Messages under ShortMessageThreshold come back as a single fragment equal
// to the trimmed input. Joining the fragments with single spaces reconstructs
// the original content modulo whitespace collapsed at cut points.
func SplitMessage(text string) []Fragment {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) < ShortMessageThreshold {
		return []Fragment{makeFragment(trimmed)}
	}

	var fragments []Fragment
	for len(runes) > 0 {
		if len(runes) <= MaxFragmentLen {
			fragments = appendFragment(fragments, string(runes))
			break
		}

		cut := splitPoint(runes)
		fragments = appendFragment(fragments, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	return fragments
}

// splitPoint picks the cut index for the next fragment, in tie-break order:
// sentence-terminal punctuation, comma, last whitespace before the ideal
// length, first whitespace at or after it, then the full remainder.
func splitPoint(runes []rune) int {
	window := runes[:MaxFragmentLen]

	if idx := lastIndexAny(window, sentenceTerminals); idx+1 >= MinFragmentLen {
		return idx + 1
	}
	if idx := lastIndexAny(window, []rune{','}); idx+1 >= MinFragmentLen {
		return idx + 1
	}

	ideal := IdealFragmentLen
	if ideal > len(runes) {
		ideal = len(runes)
	}
	for i := ideal - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	for i := ideal; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	// No whitespace at all: the remainder becomes the final fragment.
	return len(runes)
}

func lastIndexAny(window []rune, set []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		for _, r := range set {
			if window[i] == r {
				return i
			}
		}
	}
	return -1
}

func appendFragment(fragments []Fragment, text string) []Fragment {
	text = strings.TrimSpace(text)
	if text == "" {
		return fragments
	}
	return append(fragments, makeFragment(text))
}

func makeFragment(text string) Fragment {
	return Fragment{Text: text, Delay: RevealDelay(text)}
}

// RevealDelay converts a fragment's word count into a typing-rate pause,
// floored at MinRevealDelay.
func RevealDelay(text string) time.Duration {
	words := len(strings.Fields(text))
	delay := time.Duration(float64(words) / WordsPerMinute * float64(time.Minute))
	if delay < MinRevealDelay {
		return MinRevealDelay
	}
	return delay
}
