package duel

import (
	"context"
	"time"

	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

// Sweeper expires unanswered invites and forces overdue rounds across every chat.
type Sweeper struct {
	m        *Manager
	store    Store
	interval time.Duration
	batch    int
}

func NewSweeper(m *Manager, store Store) *Sweeper {
	cfg := m.Config()
	return &Sweeper{m: m, store: store, interval: cfg.SweepInterval, batch: cfg.SweepBatch}
}

// Run ticks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	obslog.L().Info("duel_sweeper_start", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("duel_sweeper_stop")
			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// settleGrace keeps the sweeper off duels whose own finalize may still be running.
const settleGrace = 30 * time.Second

// TickStats counts what one tick did.
type TickStats struct {
	Expired  int
	Resolved int
	Settled  int
	Failed   int
}

// Tick processes every overdue duel once. A failing duel is logged and skipped.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) TickStats {
	var st TickStats

	pending, err := s.store.ListPendingExpired(ctx, now, s.batch)
	if err != nil {
		obslog.L().Error("duel_sweep_list_failed", zap.String("index", "pending"), zap.Error(err))
	}
	for _, sess := range pending {
		rep, err := s.m.Expire(ctx, sess.ID, now)
		if err != nil {
			st.Failed++
			obslog.L().Warn("duel_sweep_error", zap.String("duel_id", sess.ID), zap.Error(err))
			continue
		}
		if rep.Applied {
			st.Expired++
		}
	}

	active, err := s.store.ListActiveExpired(ctx, now, s.batch)
	if err != nil {
		obslog.L().Error("duel_sweep_list_failed", zap.String("index", "active"), zap.Error(err))
	}
	for _, sess := range active {
		rep, err := s.m.ForceResolve(ctx, sess.ID, now)
		if err != nil {
			st.Failed++
			obslog.L().Warn("duel_sweep_error", zap.String("duel_id", sess.ID), zap.Error(err))
			continue
		}
		if rep.Applied {
			st.Resolved++
		}
	}

	unsettled, err := s.store.ListUnsettled(ctx, now.Add(-settleGrace), s.batch)
	if err != nil {
		obslog.L().Error("duel_sweep_list_failed", zap.String("index", "unsettled"), zap.Error(err))
	}
	for _, sess := range unsettled {
		if err := s.m.Resettle(ctx, sess); err != nil {
			st.Failed++
			obslog.L().Warn("duel_settle_retry_failed", zap.String("duel_id", sess.ID), zap.Error(err))
			continue
		}
		st.Settled++
	}

	if st.Expired+st.Resolved+st.Settled+st.Failed > 0 {
		obslog.L().Info("duel_sweep",
			zap.Int("expired", st.Expired),
			zap.Int("resolved", st.Resolved),
			zap.Int("settled", st.Settled),
			zap.Int("failed", st.Failed),
		)
	}
	return st
}
