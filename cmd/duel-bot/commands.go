package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/adapter/arenapresenter"
	"github.com/park285/cheese-duel-bot/internal/combat"
	appcfg "github.com/park285/cheese-duel-bot/internal/config"
	"github.com/park285/cheese-duel-bot/internal/duel"
	"github.com/park285/cheese-duel-bot/internal/irisfast"
	"github.com/park285/cheese-duel-bot/internal/ledger"
	"github.com/park285/cheese-duel-bot/internal/names"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

const (
	commandTimeout = 10 * time.Second
	topLimit       = 10
	defaultBuff    = 0.1
)

// bot routes chat commands to the duel controller and the ledgers.
type bot struct {
	cfg      *appcfg.AppConfig
	duels    *duel.Manager
	wallet   *ledger.Wallet
	rep      *ledger.Reputation
	names    *names.Store
	buffs    *ledger.Buffs
	view     *arenapresenter.Formatter
	out      irisfast.Egress
	maxStake int64
}

func (b *bot) handle(parent context.Context, msg *irisfast.Message) {
	if msg == nil || strings.TrimSpace(msg.Msg) == "" {
		return
	}
	if !b.cfg.RoomAllowed(msg.Room) {
		obslog.L().Debug("room_ignored", zap.String("room", msg.Room))
		return
	}
	user := msg.UserID()
	if user == "" {
		return
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	if err := b.names.Remember(ctx, msg.Room, user, msg.SenderName()); err != nil {
		obslog.L().Debug("names_remember_failed", zap.String("user_id", user), zap.Error(err))
	}

	text := strings.TrimSpace(msg.Msg)
	if !strings.HasPrefix(text, b.cfg.BotPrefix) {
		return
	}
	parts := strings.Fields(strings.TrimPrefix(text, b.cfg.BotPrefix))
	if len(parts) == 0 {
		return
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "결투", "duel":
		b.duelCommand(ctx, msg.Room, user, args)
	default:
		// 결투 중이면 "!쏘기" 같은 단축 명령도 받는다
		if a, ok := combat.ParseAction(cmd); ok && len(args) == 0 {
			b.move(ctx, msg.Room, user, a, true)
		}
	}
}

func (b *bot) duelCommand(ctx context.Context, room, user string, args []string) {
	if len(args) == 0 {
		b.reply(ctx, room, b.view.Help())
		return
	}
	if strings.HasPrefix(args[0], "@") {
		b.challenge(ctx, room, user, args)
		return
	}

	switch sub := strings.ToLower(strings.TrimSpace(args[0])); sub {
	case "도움", "도움말", "help":
		b.reply(ctx, room, b.view.Help())
	case "수락", "accept":
		s, ok := b.live(ctx, room, user)
		if !ok {
			return
		}
		if _, err := b.duels.Accept(ctx, s.ID, user); err != nil {
			b.fail(ctx, room, "accept", err)
		}
	case "거절", "취소", "decline":
		s, ok := b.live(ctx, room, user)
		if !ok {
			return
		}
		if _, err := b.duels.Decline(ctx, s.ID, user); err != nil {
			b.fail(ctx, room, "decline", err)
		}
	case "현황", "status":
		s, err := b.duels.Status(ctx, room, user)
		if errors.Is(err, duel.ErrNotFound) {
			b.reply(ctx, room, b.view.NoDuel())
			return
		}
		if err != nil {
			b.fail(ctx, room, "status", err)
			return
		}
		b.reply(ctx, room, b.view.Status(s, time.Now()))
	case "지갑", "wallet":
		bal, err := b.wallet.Balance(ctx, room, user)
		if err != nil {
			b.fail(ctx, room, "wallet", err)
			return
		}
		b.reply(ctx, room, b.view.Wallet(b.names.Resolve(ctx, room, user), bal))
	case "평판", "rep":
		score, err := b.rep.Get(ctx, room, user)
		if err != nil {
			b.fail(ctx, room, "rep", err)
			return
		}
		b.reply(ctx, room, b.view.Reputation(b.names.Resolve(ctx, room, user), score))
	case "버프", "buff":
		b.grantBuff(ctx, room, user, args[1:])
	case "순위", "top":
		top, err := b.rep.Top(ctx, room, topLimit)
		if err != nil {
			b.fail(ctx, room, "top", err)
			return
		}
		rows := make([]arenapresenter.TopEntry, 0, len(top))
		for i, e := range top {
			rows = append(rows, arenapresenter.TopEntry{Rank: i + 1, Name: b.names.Resolve(ctx, room, e.UserID), Score: e.Score})
		}
		b.reply(ctx, room, b.view.Top(rows))
	default:
		a, ok := combat.ParseAction(sub)
		if !ok {
			b.reply(ctx, room, b.view.Error(duel.ErrInvalidMove))
			return
		}
		b.move(ctx, room, user, a, false)
	}
}

// resolveTarget maps an @mention to a user id: a unique display name first,
// then a raw id that has spoken in this room.
func (b *bot) resolveTarget(ctx context.Context, room, mention string) (string, bool) {
	mention = strings.TrimSpace(strings.TrimPrefix(mention, "@"))
	if mention == "" {
		return "", false
	}
	if id, ok := b.names.Lookup(ctx, room, mention); ok {
		return id, true
	}
	if b.names.Known(ctx, room, mention) {
		return mention, true
	}
	return "", false
}

func (b *bot) challenge(ctx context.Context, room, user string, args []string) {
	mention := strings.TrimSpace(strings.TrimPrefix(args[0], "@"))
	if mention == "" {
		b.reply(ctx, room, b.view.Usage())
		return
	}
	var stake int64
	if len(args) >= 2 {
		n, err := strconv.ParseInt(strings.TrimSuffix(args[1], "원"), 10, 64)
		if err != nil || n < 0 {
			b.reply(ctx, room, b.view.Usage())
			return
		}
		stake = n
	}
	if b.maxStake > 0 && stake > b.maxStake {
		b.reply(ctx, room, b.view.MaxStake(b.maxStake))
		return
	}
	target, ok := b.resolveTarget(ctx, room, mention)
	if !ok {
		b.reply(ctx, room, b.view.UnknownTarget(mention))
		return
	}
	if _, err := b.duels.Challenge(ctx, room, user, target, stake); err != nil {
		b.fail(ctx, room, "challenge", err)
	}
}

// grantBuff lets an admin queue a crit bonus for a user's next duel.
func (b *bot) grantBuff(ctx context.Context, room, user string, args []string) {
	if !b.cfg.IsAdmin(user) {
		b.reply(ctx, room, b.view.AdminOnly())
		return
	}
	if b.buffs == nil || len(args) == 0 || !strings.HasPrefix(args[0], "@") {
		b.reply(ctx, room, b.view.BuffUsage())
		return
	}
	bonus := defaultBuff
	if len(args) >= 2 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v <= 0 || v > 1 {
			b.reply(ctx, room, b.view.BuffUsage())
			return
		}
		bonus = v
	}
	target, ok := b.resolveTarget(ctx, room, args[0])
	if !ok {
		b.reply(ctx, room, b.view.UnknownTarget(strings.TrimPrefix(args[0], "@")))
		return
	}
	if err := b.buffs.Grant(ctx, room, target, bonus); err != nil {
		b.fail(ctx, room, "buff", err)
		return
	}
	obslog.L().Info("duel_buff_granted",
		zap.String("admin_id", user),
		zap.String("user_id", target),
		zap.Float64("bonus", bonus),
	)
	b.reply(ctx, room, b.view.Buff(b.names.Resolve(ctx, room, target), bonus))
}

func (b *bot) move(ctx context.Context, room, user string, a combat.Action, quiet bool) {
	s, err := b.duels.Status(ctx, room, user)
	if err != nil {
		if quiet && errors.Is(err, duel.ErrNotFound) {
			return
		}
		b.fail(ctx, room, "move", err)
		return
	}
	if _, err := b.duels.Act(ctx, s.ID, user, a); err != nil {
		b.fail(ctx, room, "move", err)
	}
}

// live finds the caller's duel or tells them there is none.
func (b *bot) live(ctx context.Context, room, user string) (*duel.Session, bool) {
	s, err := b.duels.Status(ctx, room, user)
	if err != nil {
		b.fail(ctx, room, "lookup", err)
		return nil, false
	}
	return s, true
}

func (b *bot) fail(ctx context.Context, room, op string, err error) {
	level := obslog.L().Debug
	if !isUserError(err) {
		level = obslog.L().Warn
	}
	level("duel_command_rejected", zap.String("op", op), zap.String("room", room), zap.Error(err))
	b.reply(ctx, room, b.view.Error(err))
}

func isUserError(err error) bool {
	for _, e := range []error{
		duel.ErrInvalidArgs, duel.ErrInvalidTarget, duel.ErrNotAuthorized, duel.ErrAlreadyMoved,
		duel.ErrExpired, duel.ErrInsufficientFunds, duel.ErrNotFound, duel.ErrInvalidMove, duel.ErrNotActive,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func (b *bot) reply(ctx context.Context, room, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := b.out.SendText(ctx, room, text); err != nil {
		obslog.L().Warn("reply_failed", zap.String("room", room), zap.Error(err))
	}
}
