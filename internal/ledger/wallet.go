package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Wallet keeps per-chat coin balances in a Redis hash, wallet:<chat> -> user -> coins.
// Users without a field start with the configured starting balance.
type Wallet struct {
	rdb   *redis.Client
	start int64
}

func NewWallet(rdb *redis.Client, startBalance int64) *Wallet {
	if startBalance < 0 {
		startBalance = 0
	}
	return &Wallet{rdb: rdb, start: startBalance}
}

func keyWallet(chat string) string { return "wallet:" + strings.TrimSpace(chat) }

type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (w *Wallet) read(ctx context.Context, c hashReader, chat, user string) (int64, error) {
	raw, err := c.HGet(ctx, keyWallet(chat), strings.TrimSpace(user)).Result()
	if err == redis.Nil {
		return w.start, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wallet %s/%s: %w", chat, user, err)
	}
	return v, nil
}

// Balance returns the user's coins.
func (w *Wallet) Balance(ctx context.Context, chatID, userID string) (int64, error) {
	return w.read(ctx, w.rdb, chatID, userID)
}

// Debit removes amount if the user can cover it. It reports false otherwise.
func (w *Wallet) Debit(ctx context.Context, chatID, userID string, amount int64) (bool, error) {
	if amount < 0 {
		return false, ErrInvalidAmount
	}
	if amount == 0 {
		return true, nil
	}
	key := keyWallet(chatID)
	var ok bool
	txf := func(tx *redis.Tx) error {
		ok = false
		cur, err := w.read(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		if cur < amount {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, strings.TrimSpace(userID), cur-amount)
			return nil
		})
		if err != nil {
			return err
		}
		ok = true
		return nil
	}
	for i := 0; i < 8; i++ {
		err := w.rdb.Watch(ctx, txf, key)
		if err == nil {
			return ok, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false, err
		}
	}
	return false, redis.TxFailedErr
}

// Credit adds amount to the user's balance.
func (w *Wallet) Credit(ctx context.Context, chatID, userID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	key := keyWallet(chatID)
	user := strings.TrimSpace(userID)
	// HSETNX seeds the starting balance so HINCRBY never starts from zero.
	pipe := w.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, user, w.start)
	pipe.HIncrBy(ctx, key, user, amount)
	_, err := pipe.Exec(ctx)
	return err
}
