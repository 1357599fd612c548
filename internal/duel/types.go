package duel

import (
	"fmt"
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
)

// State is the lifecycle of a duel session.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateResolved  State = "RESOLVED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further mutation is allowed.
func (s State) Terminal() bool { return s == StateResolved || s == StateCancelled }

// Wager is the per-side stake and which sides have actually been escrowed.
type Wager struct {
	Stake          int64 `json:"stake"`
	ChallengerPaid bool  `json:"challenger_paid"`
	OpponentPaid   bool  `json:"opponent_paid"`
}

// Bank is what the winner receives: every stake that was actually escrowed.
func (w Wager) Bank() int64 {
	var total int64
	if w.ChallengerPaid {
		total += w.Stake
	}
	if w.OpponentPaid {
		total += w.Stake
	}
	return total
}

// Session is the persisted record of one duel, stored as JSON under duel:session:<id>.
type Session struct {
	ID           string `json:"id"`
	ChatID       string `json:"chat_id"`
	ChallengerID string `json:"challenger_id"`
	OpponentID   string `json:"opponent_id"`
	State        State  `json:"state"`
	Version      int64  `json:"version"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AcceptDeadline time.Time `json:"accept_deadline"`
	RoundDeadline  time.Time `json:"round_deadline,omitempty"`

	RoundNumber   int `json:"round_number"`
	RoundDuration int `json:"round_duration_sec"`

	Challenger combat.Fighter `json:"challenger"`
	Opponent   combat.Fighter `json:"opponent"`

	ChallengerMove combat.Action `json:"challenger_move,omitempty"`
	OpponentMove   combat.Action `json:"opponent_move,omitempty"`

	Wager Wager `json:"wager"`

	WinnerID         string `json:"winner_id,omitempty"`
	EndReason        string `json:"end_reason,omitempty"`
	LastRoundSummary string `json:"last_round_summary,omitempty"`
}

// End reasons recorded on terminal sessions.
const (
	ReasonKnockout  = "knockout"
	ReasonDraw      = "draw"
	ReasonSurrender = "surrender"
	ReasonDeclined  = "declined"
	ReasonExpired   = "expired"
)

// Guard is what a writer observed; CompareAndUpdate commits only if it still matches.
type Guard struct {
	State   State
	Round   int
	Version int64
}

// GuardOf captures the guard of s as read.
func GuardOf(s *Session) Guard {
	return Guard{State: s.State, Round: s.RoundNumber, Version: s.Version}
}

// IsParticipant reports whether userID fights in s.
func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.ChallengerID || userID == s.OpponentID)
}

// OpponentOf returns the other participant's id, or "" if userID is not in the duel.
func (s *Session) OpponentOf(userID string) string {
	switch userID {
	case s.ChallengerID:
		return s.OpponentID
	case s.OpponentID:
		return s.ChallengerID
	}
	return ""
}

// MoveOf returns the move userID declared this round.
func (s *Session) MoveOf(userID string) combat.Action {
	if userID == s.ChallengerID {
		return s.ChallengerMove
	}
	return s.OpponentMove
}

func (s *Session) setMove(userID string, a combat.Action) {
	if userID == s.ChallengerID {
		s.ChallengerMove = a
	} else {
		s.OpponentMove = a
	}
}

// BothMoved reports whether the round is ready to resolve.
func (s *Session) BothMoved() bool {
	return s.ChallengerMove != combat.ActionNone && s.OpponentMove != combat.ActionNone
}

// Deadline returns the deadline that matters in the current state.
func (s *Session) Deadline() time.Time {
	switch s.State {
	case StatePending:
		return s.AcceptDeadline
	case StateActive:
		return s.RoundDeadline
	}
	return time.Time{}
}

// Clone returns a deep copy safe to mutate.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Session) String() string {
	return fmt.Sprintf("duel %s [%s r%d v%d]", s.ID, s.State, s.RoundNumber, s.Version)
}
