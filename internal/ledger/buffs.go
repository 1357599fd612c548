package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlBuff = 7 * 24 * time.Hour

// Buffs stores pending crit bonuses, buff:<chat>:<user>. A duel consumes them on accept.
type Buffs struct {
	rdb *redis.Client
	max float64
}

// NewBuffs caps the stored bonus at maxBonus (0 means uncapped).
func NewBuffs(rdb *redis.Client, maxBonus float64) *Buffs {
	return &Buffs{rdb: rdb, max: maxBonus}
}

func keyBuff(chat, user string) string {
	return "buff:" + strings.TrimSpace(chat) + ":" + strings.TrimSpace(user)
}

// Grant adds bonus to the user's pending buff.
func (b *Buffs) Grant(ctx context.Context, chatID, userID string, bonus float64) error {
	if bonus <= 0 {
		return ErrInvalidAmount
	}
	key := keyBuff(chatID, userID)
	v, err := b.rdb.IncrByFloat(ctx, key, bonus).Result()
	if err != nil {
		return err
	}
	if b.max > 0 && v > b.max {
		if err := b.rdb.Set(ctx, key, strconv.FormatFloat(b.max, 'f', -1, 64), ttlBuff).Err(); err != nil {
			return err
		}
		return nil
	}
	return b.rdb.Expire(ctx, key, ttlBuff).Err()
}

// Peek returns the pending buff without consuming it.
func (b *Buffs) Peek(ctx context.Context, chatID, userID string) (float64, error) {
	v, err := b.rdb.Get(ctx, keyBuff(chatID, userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Take consumes the pending buff atomically.
func (b *Buffs) Take(ctx context.Context, chatID, userID string) (float64, error) {
	v, err := b.rdb.GetDel(ctx, keyBuff(chatID, userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
