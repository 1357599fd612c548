package duel

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/redis/go-redis/v9"
)

type memWallet struct {
	mu      sync.Mutex
	start   int64
	bal     map[string]int64
	credits []credit
}

type credit struct {
	user   string
	amount int64
}

func newMemWallet(start int64) *memWallet {
	return &memWallet{start: start, bal: map[string]int64{}}
}

func (w *memWallet) get(user string) int64 {
	if v, ok := w.bal[user]; ok {
		return v
	}
	return w.start
}

func (w *memWallet) Debit(_ context.Context, _, user string, amount int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.get(user)
	if cur < amount {
		return false, nil
	}
	w.bal[user] = cur - amount
	return true, nil
}

func (w *memWallet) Credit(_ context.Context, _, user string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bal[user] = w.get(user) + amount
	w.credits = append(w.credits, credit{user: user, amount: amount})
	return nil
}

func (w *memWallet) Balance(user string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.get(user)
}

func (w *memWallet) Credits() []credit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]credit(nil), w.credits...)
}

type memRep struct {
	mu    sync.Mutex
	score map[string]int64
	adds  int
}

func (r *memRep) Add(_ context.Context, _, user string, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.score == nil {
		r.score = map[string]int64{}
	}
	r.score[user] += delta
	r.adds++
	return r.score[user], nil
}

func (r *memRep) Get(_ context.Context, _, user string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score[user], nil
}

func (r *memRep) Adds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adds
}

// constRoller always draws v; flavor picks take the first line.
type constRoller float64

func (c constRoller) Float64() float64 { return float64(c) }
func (constRoller) IntN(int) int       { return 0 }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordAnnouncer struct {
	mu     sync.Mutex
	events []Event
}

func (a *recordAnnouncer) Announce(_ context.Context, ev Event) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *recordAnnouncer) Kinds() []EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]EventKind, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *RedisStore
	wallet *memWallet
	rep    *memRep
	clock  *testClock
	events *recordAnnouncer
	m      *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &testEnv{
		mr:     mr,
		rdb:    rdb,
		store:  NewRedisStore(rdb, time.Hour),
		wallet: newMemWallet(1000),
		rep:    &memRep{},
		clock:  &testClock{t: time.Now().Truncate(time.Second)},
		events: &recordAnnouncer{},
	}
	cfg := DefaultConfig()
	e.m = NewManager(e.store, NewSettlement(rdb, e.wallet, e.rep, cfg.ReputationReward), cfg)
	e.m.now = e.clock.Now
	e.m.roll = constRoller(0.5)
	e.m.AttachAnnouncer(e.events)
	return e
}

// start creates and accepts a duel between u1 and u2 in room1.
func (e *testEnv) start(t *testing.T, stake int64) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := e.m.Challenge(ctx, "room1", "u1", "u2", stake)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	rep, err := e.m.Accept(ctx, s.ID, "u2")
	if err != nil || !rep.Applied {
		t.Fatalf("Accept: applied=%v err=%v", rep.Applied, err)
	}
	return rep.Session
}

// patch edits a stored session through the normal compare-and-update path.
func (e *testEnv) patch(t *testing.T, id string, fn func(s *Session)) *Session {
	t.Helper()
	ctx := context.Background()
	cur, err := e.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next := cur.Clone()
	fn(next)
	if err := e.store.CompareAndUpdate(ctx, next, GuardOf(cur)); err != nil {
		t.Fatalf("CompareAndUpdate: %v", err)
	}
	return next
}

func (e *testEnv) act(t *testing.T, id, user string, a combat.Action) Report {
	t.Helper()
	rep, err := e.m.Act(context.Background(), id, user, a)
	if err != nil {
		t.Fatalf("Act(%s, %s): %v", user, a, err)
	}
	return rep
}
