package duel

import (
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
)

// activate opens round one. Buff bonuses are added to the fighters' crit modifiers.
func (s *Session) activate(now time.Time, cfg Config, challengerBuff, opponentBuff float64) {
	s.State = StateActive
	s.RoundNumber = 1
	s.RoundDuration = int(cfg.RoundDuration / time.Second)
	s.RoundDeadline = now.Add(cfg.RoundDuration)
	s.ChallengerMove, s.OpponentMove = combat.ActionNone, combat.ActionNone
	s.Challenger.CritBonus += challengerBuff
	s.Opponent.CritBonus += opponentBuff
	s.UpdatedAt = now
}

// resolveRound runs the resolver on the declared moves and advances or ends the session.
func (s *Session) resolveRound(now time.Time, cfg Config, roll combat.Roller) combat.RoundResult {
	res := combat.Resolve(s.Challenger, s.Opponent, s.ChallengerMove, s.OpponentMove, cfg.Rules, roll)
	s.Challenger, s.Opponent = res.A, res.B
	s.LastRoundSummary = strings.Join(res.Narrative, "\n")
	s.UpdatedAt = now

	switch res.Outcome {
	case combat.OutcomeAWins:
		s.finish(s.ChallengerID, ReasonKnockout, now)
	case combat.OutcomeBWins:
		s.finish(s.OpponentID, ReasonKnockout, now)
	case combat.OutcomeDraw:
		s.finish("", ReasonDraw, now)
	default:
		s.RoundNumber++
		s.ChallengerMove, s.OpponentMove = combat.ActionNone, combat.ActionNone
		s.RoundDuration = cfg.nextRoundSeconds(s.RoundDuration)
		s.RoundDeadline = now.Add(time.Duration(s.RoundDuration) * time.Second)
	}
	return res
}

func (s *Session) finish(winnerID, reason string, now time.Time) {
	s.State = StateResolved
	s.WinnerID = winnerID
	s.EndReason = reason
	s.RoundDeadline = time.Time{}
	s.UpdatedAt = now
}

func (s *Session) cancel(reason string, now time.Time) {
	s.State = StateCancelled
	s.EndReason = reason
	s.UpdatedAt = now
}
