package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ttlLive      = 24 * time.Hour
	inviteMargin = time.Minute
)

// Store persists duel sessions with atomic compare-and-update.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	CompareAndUpdate(ctx context.Context, next *Session, expect Guard) error
	ListActiveByChat(ctx context.Context, chatID string) ([]*Session, error)
	ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)
	ListActiveExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)
	FindByParticipant(ctx context.Context, chatID, userID string) (*Session, error)
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*Session, error)
	MarkSettled(ctx context.Context, id string) error
}

// RedisStore keeps one JSON record per duel plus deadline-ordered indexes.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = ttlLive
	}
	return &RedisStore{rdb: rdb, retention: retention}
}

func keySession(id string) string { return "duel:session:" + strings.TrimSpace(id) }
func keyChat(chat string) string  { return "duel:chat:" + strings.TrimSpace(chat) }
func keyInvite(chat, user string) string {
	return "duel:invite:" + strings.TrimSpace(chat) + ":" + strings.TrimSpace(user)
}

const (
	keyDuePending = "duel:due:pending"
	keyDueActive  = "duel:due:active"
	// terminal duels whose escrow/reputation side effects are not confirmed yet
	keyUnsettled = "duel:unsettled"
	// ids whose record could not be decoded; kept for inspection
	keyQuarantine = "duel:quarantine"
)

func scoreOf(t time.Time) float64 { return float64(t.UnixMilli()) }

// Create stores a new PENDING session. It fails with ErrAlreadyPending while the
// opponent still holds an unanswered invite in the same chat.
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return ErrInvalidArgs
	}
	sk := keySession(sess.ID)
	ik := keyInvite(sess.ChatID, sess.OpponentID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, ik, sk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyPending
		}
		raw, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		inviteTTL := time.Until(sess.AcceptDeadline) + inviteMargin
		if inviteTTL < inviteMargin {
			inviteTTL = inviteMargin
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, sk, raw, ttlLive)
		pipe.Set(ctx, ik, sess.ID, inviteTTL)
		pipe.ZAdd(ctx, keyDuePending, redis.Z{Score: scoreOf(sess.AcceptDeadline), Member: sess.ID})
		pipe.SAdd(ctx, keyChat(sess.ChatID), sess.ID)
		pipe.Expire(ctx, keyChat(sess.ChatID), ttlLive)
		_, err = pipe.Exec(ctx)
		return err
	}, ik, sk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrAlreadyPending
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*Session, error) {
	raw, err := c.Get(ctx, keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptRecord, id, err)
	}
	return &sess, nil
}

// CompareAndUpdate writes next only if the stored record still matches expect.
// On success next.Version is bumped to the committed version.
func (s *RedisStore) CompareAndUpdate(ctx context.Context, next *Session, expect Guard) error {
	if next == nil || strings.TrimSpace(next.ID) == "" {
		return ErrInvalidArgs
	}
	sk := keySession(next.ID)
	var committed int64
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		if GuardOf(cur) != expect {
			return ErrStaleWrite
		}
		if cur.State.Terminal() {
			return ErrStaleWrite
		}
		out := *next
		out.Version = cur.Version + 1
		raw, err := json.Marshal(&out)
		if err != nil {
			return err
		}

		pipe := tx.TxPipeline()
		switch out.State {
		case StatePending:
			pipe.Set(ctx, sk, raw, ttlLive)
			pipe.ZAdd(ctx, keyDuePending, redis.Z{Score: scoreOf(out.AcceptDeadline), Member: out.ID})
		case StateActive:
			pipe.Set(ctx, sk, raw, ttlLive)
			pipe.ZRem(ctx, keyDuePending, out.ID)
			pipe.ZAdd(ctx, keyDueActive, redis.Z{Score: scoreOf(out.RoundDeadline), Member: out.ID})
		default:
			pipe.Set(ctx, sk, raw, s.retention)
			pipe.ZRem(ctx, keyDuePending, out.ID)
			pipe.ZRem(ctx, keyDueActive, out.ID)
			pipe.SRem(ctx, keyChat(out.ChatID), out.ID)
			pipe.ZAdd(ctx, keyUnsettled, redis.Z{Score: scoreOf(out.UpdatedAt), Member: out.ID})
		}
		if cur.State == StatePending && out.State != StatePending {
			pipe.Del(ctx, keyInvite(out.ChatID, out.OpponentID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		committed = out.Version
		return nil
	}, sk)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return ErrStaleWrite
		}
		return err
	}
	next.Version = committed
	return nil
}

func (s *RedisStore) ListActiveByChat(ctx context.Context, chatID string) ([]*Session, error) {
	ck := keyChat(chatID)
	ids, err := s.rdb.SMembers(ctx, ck).Result()
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = s.rdb.SRem(ctx, ck, id).Err()
			continue
		}
		if errors.Is(err, errCorruptRecord) {
			s.quarantine(ctx, ck, id, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.State.Terminal() {
			_ = s.rdb.SRem(ctx, ck, id).Err()
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindByParticipant returns the live duel userID takes part in within chatID.
func (s *RedisStore) FindByParticipant(ctx context.Context, chatID, userID string) (*Session, error) {
	list, err := s.ListActiveByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, sess := range list {
		if sess.IsParticipant(userID) {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

func (s *RedisStore) ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	return s.listDue(ctx, keyDuePending, StatePending, now, limit)
}

func (s *RedisStore) ListActiveExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	return s.listDue(ctx, keyDueActive, StateActive, now, limit)
}

// listDue reads the deadline index up to now. Members whose record is gone or has
// moved on are dropped from the index and undecodable records are quarantined, so
// the next page is read until limit live sessions are found.
func (s *RedisStore) listDue(ctx context.Context, index string, want State, now time.Time, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	upper := strconv.FormatInt(now.UnixMilli(), 10)
	out := make([]*Session, 0, limit)
	seen := make(map[string]struct{}, limit)
	var offset int64
	for page := 0; page < maxDuePages && len(out) < limit; page++ {
		ids, err := s.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    upper,
			Offset: offset,
			Count:  int64(limit),
		}).Result()
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		dropped := 0
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sess, err := s.Get(ctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
				_ = s.rdb.ZRem(ctx, index, id).Err()
				dropped++
				continue
			case errors.Is(err, errCorruptRecord):
				s.quarantine(ctx, index, id, err)
				dropped++
				continue
			case err != nil:
				obslog.L().Warn("duel_record_unreadable", zap.String("duel_id", id), zap.Error(err))
				continue
			}
			if sess.State != want {
				_ = s.rdb.ZRem(ctx, index, id).Err()
				dropped++
				continue
			}
			if len(out) < limit {
				out = append(out, sess)
			}
		}
		if len(ids) < limit || dropped == 0 {
			break
		}
		offset += int64(len(ids) - dropped)
	}
	return out, nil
}

const maxDuePages = 4

// quarantine moves an undecodable record out of a live index so it cannot keep
// the head of the index forever.
func (s *RedisStore) quarantine(ctx context.Context, index, id string, cause error) {
	obslog.L().Warn("duel_record_unreadable",
		zap.String("duel_id", id),
		zap.String("index", index),
		zap.Error(cause),
	)
	pipe := s.rdb.TxPipeline()
	if strings.HasPrefix(index, "duel:chat:") {
		pipe.SRem(ctx, index, id)
	} else {
		pipe.ZRem(ctx, index, id)
	}
	pipe.SAdd(ctx, keyQuarantine, id)
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Error("duel_quarantine_failed", zap.String("duel_id", id), zap.Error(err))
	}
}

// ListUnsettled returns terminal duels that finished before the given time and
// whose settlement has not been confirmed.
func (s *RedisStore) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRangeByScore(ctx, keyUnsettled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			obslog.L().Error("duel_settle_record_lost", zap.String("duel_id", id))
			_ = s.rdb.ZRem(ctx, keyUnsettled, id).Err()
			continue
		case errors.Is(err, errCorruptRecord):
			s.quarantine(ctx, keyUnsettled, id, err)
			continue
		case err != nil:
			obslog.L().Warn("duel_record_unreadable", zap.String("duel_id", id), zap.Error(err))
			continue
		}
		if !sess.State.Terminal() {
			_ = s.rdb.ZRem(ctx, keyUnsettled, id).Err()
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// MarkSettled drops id from the unsettled index once every settlement step ran.
func (s *RedisStore) MarkSettled(ctx context.Context, id string) error {
	return s.rdb.ZRem(ctx, keyUnsettled, id).Err()
}
