package duel

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-duel-bot/internal/combat"
)

// Needs a disposable Postgres, e.g. DUEL_TEST_DATABASE_URL=postgres://postgres@localhost/duel_test?sslmode=disable
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DUEL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DUEL_TEST_DATABASE_URL not set")
	}
	repo, err := NewRepository(dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return repo
}

func TestRepositorySaveResultUpserts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	// schema creation is idempotent
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema again: %v", err)
	}

	r := combat.DefaultRules()
	start := time.Now().Add(-3 * time.Minute).UTC().Truncate(time.Millisecond)
	s := &Session{
		ID: uuid.NewString(), ChatID: "room1", ChallengerID: "u1", OpponentID: "u2",
		State: StateCancelled, EndReason: ReasonExpired, RoundNumber: 1,
		CreatedAt: start, UpdatedAt: start.Add(time.Minute),
		Challenger: r.NewFighter("철수"), Opponent: r.NewFighter("영희"),
		Wager: Wager{Stake: 50, ChallengerPaid: true, OpponentPaid: true},
	}
	t.Cleanup(func() { _, _ = repo.db.Exec(`DELETE FROM duel_results WHERE duel_id = $1`, s.ID) })

	if err := repo.SaveResult(ctx, s); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	s.State, s.EndReason, s.WinnerID, s.RoundNumber = StateResolved, ReasonKnockout, "u1", 3
	s.UpdatedAt = start.Add(2 * time.Minute)
	if err := repo.SaveResult(ctx, s); err != nil {
		t.Fatalf("SaveResult upsert: %v", err)
	}

	var (
		n             int
		state, winner string
		bank          int64
		rounds        int
		durationMs    int64
	)
	err := repo.db.QueryRowContext(ctx,
		`SELECT COUNT(*) OVER (), state, winner_id, bank, rounds, duration_ms FROM duel_results WHERE duel_id = $1`, s.ID,
	).Scan(&n, &state, &winner, &bank, &rounds, &durationMs)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 || state != string(StateResolved) || winner != "u1" || bank != 100 || rounds != 3 {
		t.Fatalf("row n=%d state=%s winner=%s bank=%d rounds=%d", n, state, winner, bank, rounds)
	}
	if durationMs != (2 * time.Minute).Milliseconds() {
		t.Fatalf("duration_ms=%d", durationMs)
	}

	live := *s
	live.State = StateActive
	if err := repo.SaveResult(ctx, &live); err == nil {
		t.Fatalf("live duel archived")
	}
}
