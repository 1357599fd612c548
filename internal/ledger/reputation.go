package ledger

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Reputation is a per-chat score table, rep:<chat> -> user -> score.
type Reputation struct {
	rdb *redis.Client
}

func NewReputation(rdb *redis.Client) *Reputation { return &Reputation{rdb: rdb} }

func keyRep(chat string) string { return "rep:" + strings.TrimSpace(chat) }

func (r *Reputation) Add(ctx context.Context, chatID, userID string, delta int64) (int64, error) {
	return r.rdb.HIncrBy(ctx, keyRep(chatID), strings.TrimSpace(userID), delta).Result()
}

func (r *Reputation) Get(ctx context.Context, chatID, userID string) (int64, error) {
	v, err := r.rdb.HGet(ctx, keyRep(chatID), strings.TrimSpace(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Entry is one row of a leaderboard.
type Entry struct {
	UserID string
	Score  int64
}

// Top returns up to n users with the highest score in the chat.
func (r *Reputation) Top(ctx context.Context, chatID string, n int) ([]Entry, error) {
	all, err := r.rdb.HGetAll(ctx, keyRep(chatID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for user, raw := range all {
		score, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{UserID: user, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
