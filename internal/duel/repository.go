package duel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives finished duels in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schemaDuelResults = `CREATE TABLE IF NOT EXISTS duel_results (
	duel_id        TEXT PRIMARY KEY,
	chat_id        TEXT NOT NULL,
	challenger_id  TEXT NOT NULL,
	challenger_name TEXT NOT NULL DEFAULT '',
	opponent_id    TEXT NOT NULL,
	opponent_name  TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	end_reason     TEXT NOT NULL DEFAULT '',
	winner_id      TEXT NOT NULL DEFAULT '',
	stake          BIGINT NOT NULL DEFAULT 0,
	bank           BIGINT NOT NULL DEFAULT 0,
	rounds         INTEGER NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ NOT NULL,
	duration_ms    BIGINT NOT NULL DEFAULT 0
)`

// EnsureSchema creates the archive table if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schemaDuelResults); err != nil {
		return fmt.Errorf("ensure duel_results: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS duel_results_chat_idx ON duel_results (chat_id, ended_at DESC)`)
	return err
}

// SaveResult upserts a terminal duel.
func (r *Repository) SaveResult(ctx context.Context, s *Session) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	if !s.State.Terminal() {
		return fmt.Errorf("duel %s is not finished", s.ID)
	}
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO duel_results (
		duel_id, chat_id, challenger_id, challenger_name, opponent_id, opponent_name,
		state, end_reason, winner_id, stake, bank, rounds,
		started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	) ON CONFLICT (duel_id) DO UPDATE SET
		state=EXCLUDED.state,
		end_reason=EXCLUDED.end_reason,
		winner_id=EXCLUDED.winner_id,
		bank=EXCLUDED.bank,
		rounds=EXCLUDED.rounds,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	bank := int64(0)
	if s.State == StateResolved && s.WinnerID != "" {
		bank = s.Wager.Bank()
	}
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.ChatID,
		s.ChallengerID, s.Challenger.Name,
		s.OpponentID, s.Opponent.Name,
		string(s.State), s.EndReason, s.WinnerID,
		s.Wager.Stake, bank, s.RoundNumber,
		s.CreatedAt, s.UpdatedAt, duration,
	)
	return err
}
