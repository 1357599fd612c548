package duel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

// errNoop stops a mutation without error: the session already left the expected state.
var errNoop = errors.New("noop")

// Report describes the result of a mutating call.
// Applied is false when the call lost a race or found nothing to do.
type Report struct {
	Session *Session
	Applied bool
	Round   *combat.RoundResult
}

// Manager is the duel lifecycle controller.
type Manager struct {
	store    Store
	settle   *Settlement
	cfg      Config
	roll     combat.Roller
	buffs    Buffs
	names    NameResolver
	archive  Archive
	announce Announcer
	now      func() time.Time
	newID    func() string
}

func NewManager(store Store, settle *Settlement, cfg Config) *Manager {
	return &Manager{
		store:    store,
		settle:   settle,
		cfg:      cfg.normalized(),
		roll:     combat.NewRoller(),
		announce: nopAnnouncer{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// AttachBuffs wires the crit-buff source consumed on accept.
func (m *Manager) AttachBuffs(b Buffs) { m.buffs = b }

// AttachNames wires the display-name resolver used for fighter names.
func (m *Manager) AttachNames(n NameResolver) { m.names = n }

// AttachArchive wires the finished-duel archive.
func (m *Manager) AttachArchive(a Archive) { m.archive = a }

// AttachAnnouncer wires the chat-facing event sink.
func (m *Manager) AttachAnnouncer(a Announcer) {
	if a == nil {
		a = nopAnnouncer{}
	}
	m.announce = a
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) displayName(ctx context.Context, chatID, userID string) string {
	if m.names != nil {
		if n := strings.TrimSpace(m.names.Resolve(ctx, chatID, userID)); n != "" {
			return n
		}
	}
	return "id:" + userID
}

// Challenge opens a PENDING duel and escrows the challenger's stake.
func (m *Manager) Challenge(ctx context.Context, chatID, challengerID, opponentID string, stake int64) (*Session, error) {
	chatID = strings.TrimSpace(chatID)
	challengerID = strings.TrimSpace(challengerID)
	opponentID = strings.TrimSpace(opponentID)
	if chatID == "" || challengerID == "" || opponentID == "" || stake < 0 {
		return nil, ErrInvalidArgs
	}
	if challengerID == opponentID {
		return nil, ErrInvalidTarget
	}

	if cur, err := m.store.FindByParticipant(ctx, chatID, opponentID); err == nil {
		if cur.State == StatePending && cur.OpponentID == opponentID {
			return nil, ErrAlreadyPending
		}
		return nil, ErrBusy
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := m.store.FindByParticipant(ctx, chatID, challengerID); err == nil {
		return nil, ErrBusy
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now()
	rules := m.cfg.Rules
	sess := &Session{
		ID:             m.newID(),
		ChatID:         chatID,
		ChallengerID:   challengerID,
		OpponentID:     opponentID,
		State:          StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
		AcceptDeadline: now.Add(m.cfg.AcceptTimeout),
		RoundDuration:  int(m.cfg.RoundDuration / time.Second),
		Challenger:     rules.NewFighter(m.displayName(ctx, chatID, challengerID)),
		Opponent:       rules.NewFighter(m.displayName(ctx, chatID, opponentID)),
		Wager:          Wager{Stake: stake},
	}

	if err := m.settle.Hold(ctx, chatID, challengerID, stake); err != nil {
		return nil, err
	}
	sess.Wager.ChallengerPaid = stake > 0

	if err := m.store.Create(ctx, sess); err != nil {
		if sess.Wager.ChallengerPaid {
			m.settle.Release(ctx, chatID, challengerID, stake)
		}
		return nil, err
	}

	obslog.L().Info("duel_challenge",
		zap.String("duel_id", sess.ID),
		zap.String("chat_id", chatID),
		zap.String("challenger_id", challengerID),
		zap.String("opponent_id", opponentID),
		zap.Int64("stake", stake),
	)
	m.announce.Announce(ctx, Event{Kind: EventChallenged, Session: sess.Clone(), Actor: challengerID})
	return sess, nil
}

// Accept activates a PENDING duel for the invited opponent.
func (m *Manager) Accept(ctx context.Context, id, actor string) (Report, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if cur.State != StatePending {
		return Report{Session: cur}, nil
	}
	if actor != cur.OpponentID {
		return Report{Session: cur}, ErrNotAuthorized
	}
	now := m.now()
	if now.After(cur.AcceptDeadline) {
		if _, err := m.Expire(ctx, id, now); err != nil {
			return Report{Session: cur}, err
		}
		return Report{Session: cur}, ErrExpired
	}

	stake := cur.Wager.Stake
	if err := m.settle.Hold(ctx, cur.ChatID, actor, stake); err != nil {
		return Report{Session: cur}, err
	}
	cb := m.takeBuff(ctx, cur.ChatID, cur.ChallengerID)
	ob := m.takeBuff(ctx, cur.ChatID, cur.OpponentID)
	compensate := func() {
		m.settle.Release(ctx, cur.ChatID, actor, stake)
		m.giveBuff(ctx, cur.ChatID, cur.ChallengerID, cb)
		m.giveBuff(ctx, cur.ChatID, cur.OpponentID, ob)
	}

	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		if s.State != StatePending {
			return errNoop
		}
		if now.After(s.AcceptDeadline) {
			return ErrExpired
		}
		s.Wager.OpponentPaid = stake > 0
		s.activate(now, m.cfg, cb, ob)
		return nil
	})
	if err != nil || !applied {
		compensate()
		if errors.Is(err, ErrExpired) {
			if _, xerr := m.Expire(ctx, id, now); xerr != nil {
				obslog.L().Warn("duel_expire_on_accept_failed", zap.String("duel_id", id), zap.Error(xerr))
			}
		}
		return Report{Session: next}, err
	}

	obslog.L().Info("duel_accept",
		zap.String("duel_id", id),
		zap.String("chat_id", next.ChatID),
		zap.Int("round_duration_sec", next.RoundDuration),
	)
	m.announce.Announce(ctx, Event{Kind: EventAccepted, Session: next.Clone(), Actor: actor})
	return Report{Session: next, Applied: true}, nil
}

// Decline cancels a PENDING duel. Either participant may call it.
func (m *Manager) Decline(ctx context.Context, id, actor string) (Report, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if !cur.IsParticipant(actor) {
		return Report{Session: cur}, ErrNotAuthorized
	}
	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		if s.State != StatePending {
			return errNoop
		}
		s.cancel(ReasonDeclined, m.now())
		return nil
	})
	if err != nil || !applied {
		return Report{Session: next}, err
	}
	obslog.L().Info("duel_decline", zap.String("duel_id", id), zap.String("actor_id", actor))
	m.finalize(ctx, next, EventDeclined, actor, nil)
	return Report{Session: next, Applied: true}, nil
}

// Act records actor's move for the current round and resolves it once both sides moved.
func (m *Manager) Act(ctx context.Context, id, actor string, action combat.Action) (Report, error) {
	if action == combat.ActionSurrender {
		return m.Surrender(ctx, id, actor)
	}
	if !action.Valid() {
		return Report{}, ErrInvalidMove
	}
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if !cur.IsParticipant(actor) {
		return Report{Session: cur}, ErrNotAuthorized
	}
	if cur.State == StatePending {
		return Report{Session: cur}, ErrNotActive
	}

	var round *combat.RoundResult
	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		round = nil
		if s.State != StateActive {
			return errNoop
		}
		if s.MoveOf(actor) != combat.ActionNone {
			return ErrAlreadyMoved
		}
		now := m.now()
		if now.After(s.RoundDeadline) {
			return ErrRoundExpired
		}
		s.setMove(actor, action)
		s.UpdatedAt = now
		if s.BothMoved() {
			res := s.resolveRound(now, m.cfg, m.roll)
			round = &res
		}
		return nil
	})
	if err != nil || !applied {
		return Report{Session: next}, err
	}

	obslog.L().Debug("duel_move",
		zap.String("duel_id", id),
		zap.String("actor_id", actor),
		zap.String("move", string(action)),
		zap.Int("round", cur.RoundNumber),
	)
	m.afterRound(ctx, next, actor, round)
	return Report{Session: next, Applied: true, Round: round}, nil
}

// Surrender ends an ACTIVE duel in favour of the other participant.
func (m *Manager) Surrender(ctx context.Context, id, actor string) (Report, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if !cur.IsParticipant(actor) {
		return Report{Session: cur}, ErrNotAuthorized
	}
	if cur.State == StatePending {
		return Report{Session: cur}, ErrNotActive
	}
	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		if s.State != StateActive {
			return errNoop
		}
		s.finish(s.OpponentOf(actor), ReasonSurrender, m.now())
		return nil
	})
	if err != nil || !applied {
		return Report{Session: next}, err
	}
	obslog.L().Info("duel_surrender", zap.String("duel_id", id), zap.String("actor_id", actor))
	m.finalize(ctx, next, EventFinished, actor, nil)
	return Report{Session: next, Applied: true}, nil
}

// Expire cancels a PENDING duel whose accept deadline passed before now.
func (m *Manager) Expire(ctx context.Context, id string, now time.Time) (Report, error) {
	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		if s.State != StatePending || !now.After(s.AcceptDeadline) {
			return errNoop
		}
		s.cancel(ReasonExpired, now)
		return nil
	})
	if err != nil || !applied {
		return Report{Session: next}, err
	}
	obslog.L().Info("duel_expire", zap.String("duel_id", id), zap.String("chat_id", next.ChatID))
	m.finalize(ctx, next, EventExpired, "", nil)
	return Report{Session: next, Applied: true}, nil
}

// ForceResolve resolves an ACTIVE round whose deadline passed before now,
// filling every missing move with dodge.
func (m *Manager) ForceResolve(ctx context.Context, id string, now time.Time) (Report, error) {
	var round *combat.RoundResult
	next, applied, err := m.mutate(ctx, id, func(s *Session) error {
		round = nil
		if s.State != StateActive || !now.After(s.RoundDeadline) {
			return errNoop
		}
		if s.ChallengerMove == combat.ActionNone {
			s.ChallengerMove = combat.ActionDodge
		}
		if s.OpponentMove == combat.ActionNone {
			s.OpponentMove = combat.ActionDodge
		}
		res := s.resolveRound(now, m.cfg, m.roll)
		round = &res
		return nil
	})
	if err != nil || !applied {
		return Report{Session: next}, err
	}
	obslog.L().Info("duel_force_resolve",
		zap.String("duel_id", id),
		zap.String("state", string(next.State)),
		zap.Int("round", next.RoundNumber),
	)
	m.afterRound(ctx, next, "", round)
	return Report{Session: next, Applied: true, Round: round}, nil
}

// Status returns the live duel userID takes part in within chatID.
func (m *Manager) Status(ctx context.Context, chatID, userID string) (*Session, error) {
	return m.store.FindByParticipant(ctx, chatID, userID)
}

// Get loads a duel by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// mutate reads fresh state, applies fn to a copy and commits it with compare-and-update.
// A stale write is retried; after MaxAttempts the call degrades to a no-op.
func (m *Manager) mutate(ctx context.Context, id string, fn func(s *Session) error) (*Session, bool, error) {
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if cur.State.Terminal() {
			return cur, false, nil
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, errNoop) {
				return cur, false, nil
			}
			return cur, false, err
		}
		err = m.store.CompareAndUpdate(ctx, next, GuardOf(cur))
		if err == nil {
			return next, true, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return cur, false, err
		}
		obslog.L().Debug("duel_cas_retry", zap.String("duel_id", id), zap.Int("attempt", attempt))
	}
	obslog.L().Warn("duel_cas_exhausted", zap.String("duel_id", id), zap.Int("attempts", m.cfg.MaxAttempts))
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (m *Manager) afterRound(ctx context.Context, next *Session, actor string, round *combat.RoundResult) {
	switch {
	case next.State.Terminal():
		m.finalize(ctx, next, EventFinished, actor, round)
	case round != nil:
		obslog.L().Info("duel_round_resolved",
			zap.String("duel_id", next.ID),
			zap.Int("round", next.RoundNumber-1),
			zap.Int("next_round_sec", next.RoundDuration),
		)
		m.announce.Announce(ctx, Event{Kind: EventRound, Session: next.Clone(), Actor: actor, Round: round})
	default:
		m.announce.Announce(ctx, Event{Kind: EventMoved, Session: next.Clone(), Actor: actor})
	}
}

// finalize runs the side effects of a terminal transition. Only the caller that
// committed the transition reaches here.
func (m *Manager) finalize(ctx context.Context, s *Session, kind EventKind, actor string, round *combat.RoundResult) {
	if err := m.Resettle(ctx, s); err != nil {
		obslog.L().Error("duel_settle_failed", zap.String("duel_id", s.ID), zap.Error(err))
	}
	if m.archive != nil {
		if err := m.archive.SaveResult(ctx, s); err != nil {
			obslog.L().Warn("duel_archive_failed", zap.String("duel_id", s.ID), zap.Error(err))
		}
	}
	if s.State == StateResolved {
		obslog.L().Info("duel_finished",
			zap.String("duel_id", s.ID),
			zap.String("winner_id", s.WinnerID),
			zap.String("reason", s.EndReason),
			zap.Int64("bank", s.Wager.Bank()),
		)
	}
	m.announce.Announce(ctx, Event{Kind: kind, Session: s.Clone(), Actor: actor, Round: round})
}

// Resettle runs the settlement of a terminal duel and confirms it in the store.
// An unconfirmed duel stays in the unsettled index for the sweeper.
func (m *Manager) Resettle(ctx context.Context, s *Session) error {
	if err := m.settle.Settle(ctx, s); err != nil {
		return err
	}
	return m.store.MarkSettled(ctx, s.ID)
}

func (m *Manager) takeBuff(ctx context.Context, chatID, userID string) float64 {
	if m.buffs == nil {
		return 0
	}
	b, err := m.buffs.Take(ctx, chatID, userID)
	if err != nil {
		obslog.L().Warn("duel_buff_take_failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return b
}

func (m *Manager) giveBuff(ctx context.Context, chatID, userID string, bonus float64) {
	if m.buffs == nil || bonus <= 0 {
		return
	}
	if err := m.buffs.Grant(ctx, chatID, userID, bonus); err != nil {
		obslog.L().Warn("duel_buff_restore_failed", zap.String("user_id", userID), zap.Error(fmt.Errorf("grant: %w", err)))
	}
}
