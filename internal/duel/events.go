package duel

import (
	"context"

	"github.com/park285/cheese-duel-bot/internal/combat"
)

// EventKind names a committed transition.
type EventKind string

const (
	EventChallenged EventKind = "challenged"
	EventAccepted   EventKind = "accepted"
	EventDeclined   EventKind = "declined"
	EventExpired    EventKind = "expired"
	EventMoved      EventKind = "moved"
	EventRound      EventKind = "round"
	EventFinished   EventKind = "finished"
)

// Event is emitted after a write commits. Session is the committed state.
type Event struct {
	Kind    EventKind
	Session *Session
	Actor   string
	Round   *combat.RoundResult
}

// Announcer receives events; it must not block for long and never affects game state.
type Announcer interface {
	Announce(ctx context.Context, ev Event)
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, Event) {}

// Buffs hands out crit bonuses granted elsewhere; Take consumes them.
type Buffs interface {
	Take(ctx context.Context, chatID, userID string) (float64, error)
	Grant(ctx context.Context, chatID, userID string, bonus float64) error
}

// NameResolver maps a user id to a display name for narrative text.
type NameResolver interface {
	Resolve(ctx context.Context, chatID, userID string) string
}

// Archive stores finished duels for history.
type Archive interface {
	SaveResult(ctx context.Context, s *Session) error
}
