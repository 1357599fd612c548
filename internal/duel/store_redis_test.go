package duel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func pendingSession(id, chat, challenger, opponent string, deadline time.Time) *Session {
	r := combat.DefaultRules()
	return &Session{
		ID:             id,
		ChatID:         chat,
		ChallengerID:   challenger,
		OpponentID:     opponent,
		State:          StatePending,
		CreatedAt:      deadline.Add(-2 * time.Minute),
		UpdatedAt:      deadline.Add(-2 * time.Minute),
		AcceptDeadline: deadline,
		RoundDuration:  60,
		Challenger:     r.NewFighter(challenger),
		Opponent:       r.NewFighter(opponent),
	}
}

func TestCreateRejectsSecondInviteForSameTarget(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	dl := time.Now().Add(time.Minute)

	if err := e.store.Create(ctx, pendingSession("d1", "room1", "u1", "u2", dl)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := e.store.Create(ctx, pendingSession("d2", "room1", "u3", "u2", dl))
	if !errors.Is(err, ErrAlreadyPending) || !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrAlreadyPending wrapping ErrInvalidTarget, got %v", err)
	}
	// other chat is independent
	if err := e.store.Create(ctx, pendingSession("d3", "room2", "u3", "u2", dl)); err != nil {
		t.Fatalf("Create other chat: %v", err)
	}
}

func TestCompareAndUpdateRejectsStaleGuard(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.store.Create(ctx, pendingSession("d1", "room1", "u1", "u2", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cur, err := e.store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stale := GuardOf(cur)

	first := cur.Clone()
	first.LastRoundSummary = "first"
	if err := e.store.CompareAndUpdate(ctx, first, stale); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if first.Version != cur.Version+1 {
		t.Fatalf("version not bumped: %d -> %d", cur.Version, first.Version)
	}

	second := cur.Clone()
	second.LastRoundSummary = "second"
	if err := e.store.CompareAndUpdate(ctx, second, stale); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	got, _ := e.store.Get(ctx, "d1")
	if got.LastRoundSummary != "first" {
		t.Fatalf("stale writer overwrote record: %q", got.LastRoundSummary)
	}
}

func TestTerminalSessionIsFinalAndUnindexed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	dl := time.Now().Add(-time.Second)
	if err := e.store.Create(ctx, pendingSession("d1", "room1", "u1", "u2", dl)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cur, _ := e.store.Get(ctx, "d1")
	next := cur.Clone()
	next.cancel(ReasonExpired, time.Now())
	if err := e.store.CompareAndUpdate(ctx, next, GuardOf(cur)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	again := next.Clone()
	again.State = StatePending
	if err := e.store.CompareAndUpdate(ctx, again, GuardOf(next)); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("terminal record accepted a write: %v", err)
	}

	live, err := e.store.ListActiveByChat(ctx, "room1")
	if err != nil || len(live) != 0 {
		t.Fatalf("ListActiveByChat: %v %d", err, len(live))
	}
	due, err := e.store.ListPendingExpired(ctx, time.Now(), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("ListPendingExpired: %v %d", err, len(due))
	}
	if e.mr.Exists(keyInvite("room1", "u2")) {
		t.Fatalf("invite key should be released")
	}
	unsettled, err := e.store.ListUnsettled(ctx, time.Now().Add(time.Second), 10)
	if err != nil || len(unsettled) != 1 || unsettled[0].ID != "d1" {
		t.Fatalf("ListUnsettled: %v %d", err, len(unsettled))
	}
	if err := e.store.MarkSettled(ctx, "d1"); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if unsettled, _ := e.store.ListUnsettled(ctx, time.Now().Add(time.Second), 10); len(unsettled) != 0 {
		t.Fatalf("settled duel still listed")
	}
	// a new invite to the same target is allowed again
	if err := e.store.Create(ctx, pendingSession("d2", "room1", "u1", "u2", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Create after cancel: %v", err)
	}
}

func TestListPendingExpiredOrdersByDeadline(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	if err := e.store.Create(ctx, pendingSession("late", "room1", "u1", "u2", now.Add(time.Minute))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.store.Create(ctx, pendingSession("early", "room1", "u3", "u4", now.Add(-time.Second))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	due, err := e.store.ListPendingExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListPendingExpired: %v", err)
	}
	if len(due) != 1 || due[0].ID != "early" {
		t.Fatalf("unexpected due list: %+v", due)
	}
	due, _ = e.store.ListPendingExpired(ctx, now.Add(2*time.Minute), 10)
	if len(due) != 2 || due[0].ID != "early" {
		t.Fatalf("expected both in deadline order, got %d", len(due))
	}
}

func TestListSkipsMalformedRecord(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	t.Cleanup(obslog.Replace(zap.New(core)))
	e := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	if err := e.store.Create(ctx, pendingSession("ok", "room1", "u1", "u2", now.Add(-time.Second))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.mr.Set(keySession("bad"), "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := e.mr.ZAdd(keyDuePending, float64(now.Add(-time.Minute).UnixMilli()), "bad"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	if _, err := e.mr.ZAdd(keyDuePending, float64(now.Add(-time.Minute).UnixMilli()), "gone"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	due, err := e.store.ListPendingExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListPendingExpired: %v", err)
	}
	if len(due) != 1 || due[0].ID != "ok" {
		t.Fatalf("expected only the valid record, got %d", len(due))
	}
	if n := logs.FilterMessage("duel_record_unreadable").Len(); n != 1 {
		t.Fatalf("unreadable record logged %d times", n)
	}
	members, _ := e.mr.ZMembers(keyDuePending)
	for _, m := range members {
		if m == "gone" || m == "bad" {
			t.Fatalf("%s should be pruned from index", m)
		}
	}
	if ok, _ := e.mr.IsMember(keyQuarantine, "bad"); !ok {
		t.Fatalf("malformed record not quarantined")
	}
}

func TestFindByParticipant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.store.Create(ctx, pendingSession("d1", "room1", "u1", "u2", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := e.store.FindByParticipant(ctx, "room1", "u1")
	if err != nil || s.ID != "d1" {
		t.Fatalf("FindByParticipant: %v", err)
	}
	if _, err := e.store.FindByParticipant(ctx, "room1", "u9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.store.FindByParticipant(ctx, "room2", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in other chat, got %v", err)
	}
}
