// Package convo owns conversation state for Kindred: the turn model, the
// durable per-persona history, the transient active view, and the engine
// that is the only writer for both.
package convo

import (
	"time"
)

// Role attributes a turn to its author. It is fixed at turn creation and
// never inferred afterwards.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn is one atomic unit of conversational content. While it remains the
// trailing turn of a history its text may still grow; once superseded or
// sealed it is immutable.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Reaction  string    `json:"reaction,omitempty"`
}

// Finality says how an append affects the sealed state of the turn it lands
// on. KeepFinality leaves the flag unchanged (new turns start open).
type Finality int

const (
	KeepFinality Finality = iota
	OpenTurn
	SealTurn
)

// TurnUpdate carries optional field updates for UpdateTurn. Nil fields are
// left untouched. Reapplying the current reaction toggles it off.
type TurnUpdate struct {
	Text     *string
	Reaction *string
}

// ConversationState is the durable record kept per persona: the ordered turn
// sequence plus the unread badge counter.
type ConversationState struct {
	Turns       []Turn `json:"turns"`
	UnreadCount int    `json:"unreadCount"`
}

// cloneTurns returns a defensive copy so callers can never mutate stored
// history behind the engine's back.
func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
