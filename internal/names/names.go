// Package names caches chat display names seen on inbound messages.
package names

import (
	"context"
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ttlNames = 30 * 24 * time.Hour

// Store keeps names:<chat> -> user -> display name.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func keyNames(chat string) string { return "names:" + strings.TrimSpace(chat) }

// Remember records the latest display name. Empty names are ignored.
func (s *Store) Remember(ctx context.Context, chatID, userID, name string) error {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil
	}
	key := keyNames(chatID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, userID, name)
	pipe.Expire(ctx, key, ttlNames)
	_, err := pipe.Exec(ctx)
	return err
}

// Resolve returns the cached name or id:<user> when unknown.
func (s *Store) Resolve(ctx context.Context, chatID, userID string) string {
	userID = strings.TrimSpace(userID)
	name, err := s.rdb.HGet(ctx, keyNames(chatID), userID).Result()
	if err != nil && err != redis.Nil {
		obslog.L().Debug("names_resolve_failed", zap.String("user_id", userID), zap.Error(err))
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return Fallback(userID)
}

// Known reports whether userID has spoken in chatID.
func (s *Store) Known(ctx context.Context, chatID, userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	ok, err := s.rdb.HExists(ctx, keyNames(chatID), userID).Result()
	if err != nil {
		obslog.L().Debug("names_known_failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

// Fallback is the display name used for users never seen.
func Fallback(userID string) string { return "id:" + userID }

// Lookup finds the user whose cached name equals name (case-insensitive).
// Ambiguous or unknown names report false.
func (s *Store) Lookup(ctx context.Context, chatID, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	all, err := s.rdb.HGetAll(ctx, keyNames(chatID)).Result()
	if err != nil {
		obslog.L().Debug("names_lookup_failed", zap.String("chat_id", chatID), zap.Error(err))
		return "", false
	}
	var found string
	for user, n := range all {
		if !strings.EqualFold(strings.TrimSpace(n), name) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = user
	}
	return found, found != ""
}
