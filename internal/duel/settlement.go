package duel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Wallet is the currency ledger the duel escrows stakes into.
// Debit returns false when the user cannot cover amount.
type Wallet interface {
	Debit(ctx context.Context, chatID, userID string, amount int64) (bool, error)
	Credit(ctx context.Context, chatID, userID string, amount int64) error
}

// Reputation is the per-chat score ledger.
type Reputation interface {
	Add(ctx context.Context, chatID, userID string, delta int64) (int64, error)
	Get(ctx context.Context, chatID, userID string) (int64, error)
}

// Settlement moves escrowed stakes and reputation when a duel ends.
// Every terminal step is recorded under duel:settle:<id>:<step> so a step runs once.
type Settlement struct {
	rdb    *redis.Client
	wallet Wallet
	rep    Reputation
	reward int64
	ttl    time.Duration
}

func NewSettlement(rdb *redis.Client, wallet Wallet, rep Reputation, reward int64) *Settlement {
	return &Settlement{rdb: rdb, wallet: wallet, rep: rep, reward: reward, ttl: 7 * 24 * time.Hour}
}

func keySettle(id, step string) string {
	return "duel:settle:" + strings.TrimSpace(id) + ":" + step
}

// Hold debits amount from the user. It is not keyed: callers compensate with Release.
func (s *Settlement) Hold(ctx context.Context, chatID, userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	ok, err := s.wallet.Debit(ctx, chatID, userID, amount)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if !ok {
		return ErrInsufficientFunds
	}
	return nil
}

// Release returns a Hold that never made it into a committed session.
func (s *Settlement) Release(ctx context.Context, chatID, userID string, amount int64) {
	if amount <= 0 {
		return
	}
	if err := s.wallet.Credit(ctx, chatID, userID, amount); err != nil {
		obslog.L().Error("duel_release_failed",
			zap.String("chat_id", chatID),
			zap.String("user_id", userID),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
	}
}

const (
	settleClaimTTL = time.Minute
	settleDone     = "done"
)

// errSettleInFlight means another caller holds the step and has not finished it.
var errSettleInFlight = errors.New("settlement step in flight")

// once runs fn under an idempotency key. The key is claimed for settleClaimTTL
// while fn runs and marked done afterwards; a failed fn releases the claim so the
// unsettled sweep can retry the step.
func (s *Settlement) once(ctx context.Context, duelID, step string, fn func() error) (bool, error) {
	key := keySettle(duelID, step)
	ok, err := s.rdb.SetNX(ctx, key, "claimed", settleClaimTTL).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		v, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			return false, errSettleInFlight
		case err != nil:
			return false, err
		case v != settleDone:
			return false, errSettleInFlight
		}
		obslog.L().Warn("duel_settle_duplicate", zap.String("duel_id", duelID), zap.String("step", step))
		return false, nil
	}
	if err := fn(); err != nil {
		_ = s.rdb.Del(ctx, key).Err()
		return false, err
	}
	if err := s.rdb.Set(ctx, key, settleDone, s.ttl).Err(); err != nil {
		obslog.L().Error("duel_settle_mark_failed", zap.String("duel_id", duelID), zap.String("step", step), zap.Error(err))
	}
	return true, nil
}

// Settle dispatches on a terminal session: payout for a winner, refunds otherwise.
func (s *Settlement) Settle(ctx context.Context, sess *Session) error {
	if sess == nil || !sess.State.Terminal() {
		return ErrInvalidArgs
	}
	if sess.State == StateResolved && sess.WinnerID != "" {
		return s.Payout(ctx, sess)
	}
	return s.Refund(ctx, sess)
}

// Refund returns each escrowed stake to the side that paid it.
func (s *Settlement) Refund(ctx context.Context, sess *Session) error {
	stake := sess.Wager.Stake
	if sess.Wager.ChallengerPaid {
		if _, err := s.once(ctx, sess.ID, "refund:challenger", func() error {
			return s.wallet.Credit(ctx, sess.ChatID, sess.ChallengerID, stake)
		}); err != nil {
			return fmt.Errorf("refund challenger: %w", err)
		}
	}
	if sess.Wager.OpponentPaid {
		if _, err := s.once(ctx, sess.ID, "refund:opponent", func() error {
			return s.wallet.Credit(ctx, sess.ChatID, sess.OpponentID, stake)
		}); err != nil {
			return fmt.Errorf("refund opponent: %w", err)
		}
	}
	return nil
}

// Payout credits the bank and the reputation reward to the winner.
func (s *Settlement) Payout(ctx context.Context, sess *Session) error {
	if !sess.IsParticipant(sess.WinnerID) {
		return ErrInvalidArgs
	}
	if bank := sess.Wager.Bank(); bank > 0 {
		paid, err := s.once(ctx, sess.ID, "payout", func() error {
			return s.wallet.Credit(ctx, sess.ChatID, sess.WinnerID, bank)
		})
		if err != nil {
			return fmt.Errorf("payout: %w", err)
		}
		if paid {
			obslog.L().Info("duel_payout",
				zap.String("duel_id", sess.ID),
				zap.String("winner_id", sess.WinnerID),
				zap.Int64("bank", bank),
			)
		}
	}
	if s.rep != nil && s.reward > 0 {
		if _, err := s.once(ctx, sess.ID, "reputation", func() error {
			_, err := s.rep.Add(ctx, sess.ChatID, sess.WinnerID, s.reward)
			return err
		}); err != nil {
			return fmt.Errorf("reputation: %w", err)
		}
	}
	return nil
}
