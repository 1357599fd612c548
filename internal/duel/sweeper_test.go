package duel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
)

func TestSweeperExpiresUnansweredInviteOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	s, err := e.m.Challenge(ctx, "room1", "u1", "u2", 50)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	sw := NewSweeper(e.m, e.store)

	if st := sw.Tick(ctx, e.clock.Now().Add(time.Minute)); st.Expired != 0 {
		t.Fatalf("expired before deadline: %+v", st)
	}
	later := s.AcceptDeadline.Add(time.Second)
	if st := sw.Tick(ctx, later); st.Expired != 1 {
		t.Fatalf("first tick: %+v", st)
	}
	if st := sw.Tick(ctx, later.Add(5*time.Second)); st.Expired != 0 {
		t.Fatalf("second tick: %+v", st)
	}
	cur, _ := e.store.Get(ctx, s.ID)
	if cur.State != StateCancelled || cur.EndReason != ReasonExpired {
		t.Fatalf("state %s reason %q", cur.State, cur.EndReason)
	}
	if e.wallet.Balance("u1") != 1000 || len(e.wallet.Credits()) != 1 {
		t.Fatalf("refund u1=%d credits=%d", e.wallet.Balance("u1"), len(e.wallet.Credits()))
	}
}

func TestSweeperForcesOverdueRoundWithDodge(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.m.roll = constRoller(0.5)
	s := e.start(t, 0)
	e.act(t, s.ID, "u1", combat.ActionShoot)

	sw := NewSweeper(e.m, e.store)
	st := sw.Tick(ctx, s.RoundDeadline.Add(time.Second))
	if st.Resolved != 1 {
		t.Fatalf("tick: %+v", st)
	}
	cur, _ := e.store.Get(ctx, s.ID)
	if cur.State != StateActive || cur.RoundNumber != 2 || cur.RoundDuration != 50 {
		t.Fatalf("after sweep: %s dur=%d", cur, cur.RoundDuration)
	}
	// 0.5 against 0.35-0.20 misses; the silent player was treated as dodging
	if cur.Challenger.Ammo != 2 || cur.Opponent.HP != 4 {
		t.Fatalf("ammo=%d hp=%d", cur.Challenger.Ammo, cur.Opponent.HP)
	}
	if cur.OpponentMove != combat.ActionNone {
		t.Fatalf("moves should reset after resolution")
	}

	// nothing overdue until the shortened deadline passes
	if st := sw.Tick(ctx, s.RoundDeadline.Add(2*time.Second)); st.Resolved != 0 {
		t.Fatalf("re-resolved: %+v", st)
	}
}

func TestSweeperSkipsBrokenRecord(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	s, err := e.m.Challenge(ctx, "room1", "u1", "u2", 0)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := e.mr.Set(keySession("broken"), "{"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := e.mr.ZAdd(keyDuePending, 1, "broken"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	st := NewSweeper(e.m, e.store).Tick(ctx, s.AcceptDeadline.Add(time.Second))
	if st.Expired != 1 {
		t.Fatalf("valid duel not swept: %+v", st)
	}
}

// A last-second move and the sweeper race to finish the same round.
func TestRaceActVsSweeperPaysOnce(t *testing.T) {
	for i := 0; i < 25; i++ {
		e := newTestEnv(t)
		ctx := context.Background()
		e.m.roll = constRoller(0.3)
		s := e.start(t, 50)
		e.patch(t, s.ID, func(s *Session) {
			s.Challenger.Accuracy = 0.85
			s.Opponent.HP = 1
		})
		e.act(t, s.ID, "u1", combat.ActionShoot)

		e.clock.Set(s.RoundDeadline.Add(-time.Second))
		sw := NewSweeper(e.m, e.store)
		sweepAt := s.RoundDeadline.Add(time.Second)

		var wg sync.WaitGroup
		start := make(chan struct{})
		var actErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, actErr = e.m.Act(ctx, s.ID, "u2", combat.ActionDodge)
		}()
		go func() {
			defer wg.Done()
			<-start
			sw.Tick(ctx, sweepAt)
		}()
		close(start)
		wg.Wait()

		if actErr != nil {
			t.Fatalf("iteration %d: Act: %v", i, actErr)
		}
		cur, _ := e.store.Get(ctx, s.ID)
		if cur.State != StateResolved || cur.WinnerID != "u1" {
			t.Fatalf("iteration %d: %s winner=%q", i, cur, cur.WinnerID)
		}
		payouts := 0
		for _, c := range e.wallet.Credits() {
			if c.user == "u1" && c.amount == 100 {
				payouts++
			}
		}
		if payouts != 1 || len(e.wallet.Credits()) != 1 {
			t.Fatalf("iteration %d: payouts=%d credits=%d", i, payouts, len(e.wallet.Credits()))
		}
		if e.rep.Adds() != 1 {
			t.Fatalf("iteration %d: reputation credits=%d", i, e.rep.Adds())
		}
	}
}

// flakyWallet fails the next n credits, as a dropped Redis connection would.
type flakyWallet struct {
	*memWallet
	mu    sync.Mutex
	fails int
}

func (w *flakyWallet) Credit(ctx context.Context, chat, user string, amount int64) error {
	w.mu.Lock()
	fail := w.fails > 0
	if fail {
		w.fails--
	}
	w.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return w.memWallet.Credit(ctx, chat, user, amount)
}

func TestSweeperRetriesFailedPayout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	w := &flakyWallet{memWallet: e.wallet}
	e.m.settle = NewSettlement(e.rdb, w, e.rep, e.m.Config().ReputationReward)
	e.m.roll = constRoller(0.3)
	s := e.start(t, 50)
	e.patch(t, s.ID, func(s *Session) {
		s.Challenger.Accuracy = 0.85
		s.Opponent.HP = 1
	})
	e.act(t, s.ID, "u1", combat.ActionShoot)
	w.mu.Lock()
	w.fails = 1
	w.mu.Unlock()
	rep := e.act(t, s.ID, "u2", combat.ActionDodge)
	if rep.Session.State != StateResolved || rep.Session.WinnerID != "u1" {
		t.Fatalf("not finished: %s", rep.Session)
	}
	if e.wallet.Balance("u1") != 950 || e.rep.Adds() != 0 {
		t.Fatalf("payout should have failed: u1=%d rep=%d", e.wallet.Balance("u1"), e.rep.Adds())
	}
	if !e.mr.Exists(keyUnsettled) {
		t.Fatalf("failed settlement must stay queued")
	}

	sw := NewSweeper(e.m, e.store)
	if st := sw.Tick(ctx, e.clock.Now()); st.Settled != 0 {
		t.Fatalf("retried inside grace: %+v", st)
	}
	later := e.clock.Now().Add(time.Minute)
	if st := sw.Tick(ctx, later); st.Settled != 1 || st.Failed != 0 {
		t.Fatalf("retry tick: %+v", st)
	}
	if e.wallet.Balance("u1") != 1050 || e.rep.Adds() != 1 {
		t.Fatalf("after retry u1=%d rep=%d", e.wallet.Balance("u1"), e.rep.Adds())
	}
	if st := sw.Tick(ctx, later.Add(5*time.Second)); st.Settled != 0 {
		t.Fatalf("settled twice: %+v", st)
	}
	if n := len(e.wallet.Credits()); n != 1 {
		t.Fatalf("credits=%d", n)
	}
	if e.mr.Exists(keyUnsettled) {
		t.Fatalf("settled duel left in the unsettled index")
	}
}

func TestSweeperNotBlockedByCorruptRecords(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	s, err := e.m.Challenge(ctx, "room1", "u1", "u2", 50)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	for _, id := range []string{"broken1", "broken2"} {
		if err := e.mr.Set(keySession(id), "{"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, err := e.mr.ZAdd(keyDuePending, 1, id); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
	}
	sw := NewSweeper(e.m, e.store)
	sw.batch = 2

	if st := sw.Tick(ctx, s.AcceptDeadline.Add(time.Second)); st.Expired != 1 {
		t.Fatalf("valid invite not swept: %+v", st)
	}
	if e.wallet.Balance("u1") != 1000 {
		t.Fatalf("refund missing: u1=%d", e.wallet.Balance("u1"))
	}
	for _, id := range []string{"broken1", "broken2"} {
		if ok, _ := e.mr.IsMember(keyQuarantine, id); !ok {
			t.Fatalf("%s not quarantined", id)
		}
	}
	if e.mr.Exists(keyDuePending) {
		members, _ := e.mr.ZMembers(keyDuePending)
		t.Fatalf("pending index still holds %v", members)
	}
}
