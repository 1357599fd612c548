package arenapresenter

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/park285/cheese-duel-bot/internal/duel"
	"github.com/park285/cheese-duel-bot/internal/msgcat"
	"github.com/park285/cheese-duel-bot/internal/util"
)

// PrefixProvider exposes the command prefix shown in help lines.
type PrefixProvider interface {
	Prefix() string
}

type staticPrefix string

func (p staticPrefix) Prefix() string { return string(p) }

// StaticPrefix wraps a fixed prefix.
func StaticPrefix(p string) PrefixProvider { return staticPrefix(p) }

var actionLabels = map[combat.Action]string{
	combat.ActionShoot:     "쏘기",
	combat.ActionAim:       "조준",
	combat.ActionDodge:     "회피",
	combat.ActionReload:    "장전",
	combat.ActionHeal:      "치료",
	combat.ActionSurrender: "항복",
}

// ActionLabel returns the Korean command word for a.
func ActionLabel(a combat.Action) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Formatter renders duel sessions into Kakao text through the message catalog.
type Formatter struct {
	cat    *msgcat.Catalog
	prefix PrefixProvider
	rules  combat.Rules
	reward int64
}

func NewFormatter(cat *msgcat.Catalog, provider PrefixProvider, rules combat.Rules, reward int64) *Formatter {
	return &Formatter{cat: cat, prefix: provider, rules: rules, reward: reward}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefix == nil {
		return ""
	}
	return strings.TrimSpace(f.prefix.Prefix())
}

func (f *Formatter) Help() string {
	return util.FoldFirstLine(f.cat.Text("duel.help", map[string]any{"P": f.Prefix()}, "결투 도움말을 불러오지 못했습니다."))
}

func (f *Formatter) Usage() string {
	return f.cat.Text("duel.err.usage", map[string]any{"P": f.Prefix()}, "사용법: 결투 @상대 [판돈]")
}

func (f *Formatter) MaxStake(max int64) string {
	return f.cat.Text("duel.err.max_stake", map[string]any{"Max": max}, "판돈이 너무 큽니다.")
}

// UnknownTarget rejects an @mention that matches no single known user.
func (f *Formatter) UnknownTarget(name string) string {
	return f.cat.Text("duel.err.unknown_target", map[string]any{"Name": name}, "상대를 찾을 수 없습니다.")
}

func (f *Formatter) AdminOnly() string {
	return f.cat.Text("duel.err.admin_only", nil, "관리자만 사용할 수 있습니다.")
}

func (f *Formatter) BuffUsage() string {
	return f.cat.Text("duel.err.buff_usage", map[string]any{"P": f.Prefix()}, "사용법: 결투 버프 @대상 [보너스]")
}

func (f *Formatter) Buff(name string, bonus float64) string {
	return f.cat.Text("duel.buff", map[string]any{"Name": name, "Percent": int(math.Round(bonus * 100))}, name)
}

// Actions renders the move buttons as one line.
func (f *Formatter) Actions(actions []combat.Action) string {
	labels := make([]string, 0, len(actions))
	for _, a := range actions {
		labels = append(labels, ActionLabel(a))
	}
	return f.cat.Text("duel.actions", map[string]any{"Actions": labels, "P": f.Prefix()}, strings.Join(labels, " · "))
}

func (f *Formatter) Challenge(s *duel.Session, now time.Time) string {
	return f.cat.Text("duel.challenge", map[string]any{
		"Challenger": s.Challenger.Name,
		"Opponent":   s.Opponent.Name,
		"Stake":      s.Wager.Stake,
		"Seconds":    secondsLeft(s.AcceptDeadline, now),
		"P":          f.Prefix(),
	}, "결투 신청!")
}

func (f *Formatter) Accepted(s *duel.Session) string {
	return f.cat.Text("duel.accepted", map[string]any{
		"Challenger": s.Challenger.Name,
		"Opponent":   s.Opponent.Name,
		"Bank":       s.Wager.Bank(),
	}, "결투 시작!")
}

func (f *Formatter) Declined(s *duel.Session, actor string) string {
	return f.cat.Text("duel.declined", map[string]any{
		"Actor":      nameOf(s, actor),
		"Challenger": s.Challenger.Name,
		"Refund":     refundOf(s),
	}, "결투가 취소되었습니다.")
}

func (f *Formatter) Expired(s *duel.Session) string {
	return f.cat.Text("duel.expired", map[string]any{
		"Challenger": s.Challenger.Name,
		"Opponent":   s.Opponent.Name,
		"Refund":     refundOf(s),
	}, "결투 신청이 만료되었습니다.")
}

// Arena renders both fighters and who is still to move.
func (f *Formatter) Arena(s *duel.Session, now time.Time) string {
	var waiting []string
	if s.ChallengerMove == combat.ActionNone {
		waiting = append(waiting, s.Challenger.Name)
	}
	if s.OpponentMove == combat.ActionNone {
		waiting = append(waiting, s.Opponent.Name)
	}
	return f.cat.Text("duel.arena", map[string]any{
		"Round":   s.RoundNumber,
		"Seconds": secondsLeft(s.RoundDeadline, now),
		"A":       f.fighter(s.Challenger, s.ChallengerMove != combat.ActionNone),
		"B":       f.fighter(s.Opponent, s.OpponentMove != combat.ActionNone),
		"Waiting": strings.Join(waiting, ", "),
	}, s.Challenger.Name+" vs "+s.Opponent.Name)
}

func (f *Formatter) fighter(fi combat.Fighter, moved bool) string {
	hp := fi.HP
	if hp < 0 {
		hp = 0
	}
	lost := f.rules.MaxHP - hp
	if lost < 0 {
		lost = 0
	}
	return f.cat.Text("duel.fighter", map[string]any{
		"Name":     fi.Name,
		"HPBar":    strings.Repeat("❤️", hp) + strings.Repeat("🖤", lost),
		"HP":       fi.HP,
		"MaxHP":    f.rules.MaxHP,
		"Ammo":     fi.Ammo,
		"MaxAmmo":  f.rules.MaxAmmo,
		"Accuracy": int(math.Round(fi.Accuracy * 100)),
		"Aimed":    fi.Aimed,
		"Moved":    moved,
	}, fi.Name)
}

func (f *Formatter) Moved(s *duel.Session, actor string) string {
	return f.cat.Text("duel.moved", map[string]any{
		"Name":    nameOf(s, actor),
		"Waiting": nameOf(s, s.OpponentOf(actor)),
	}, "행동 완료")
}

// Round renders the narrative of the round that just resolved.
func (f *Formatter) Round(s *duel.Session, res *combat.RoundResult) string {
	if res == nil {
		return ""
	}
	n := s.RoundNumber
	if s.State == duel.StateActive {
		n--
	}
	return f.cat.Text("duel.round", map[string]any{
		"Round":     n,
		"Narrative": strings.Join(res.Narrative, "\n"),
	}, strings.Join(res.Narrative, "\n"))
}

// Finished renders the closing line of a RESOLVED duel.
func (f *Formatter) Finished(s *duel.Session) string {
	if s.WinnerID == "" {
		var stake int64
		if s.Wager.Bank() > 0 {
			stake = s.Wager.Stake
		}
		return f.cat.Text("duel.finished.draw", map[string]any{"Stake": stake}, "무승부!")
	}
	key := "duel.finished.knockout"
	if s.EndReason == duel.ReasonSurrender {
		key = "duel.finished.surrender"
	}
	return f.cat.Text(key, map[string]any{
		"Winner": nameOf(s, s.WinnerID),
		"Loser":  nameOf(s, s.OpponentOf(s.WinnerID)),
		"Bank":   s.Wager.Bank(),
		"Reward": f.reward,
	}, "결투 종료")
}

// Status renders a live duel for the status command.
func (f *Formatter) Status(s *duel.Session, now time.Time) string {
	if s == nil {
		return f.NoDuel()
	}
	if s.State == duel.StatePending {
		return f.cat.Text("duel.status.pending", map[string]any{
			"Challenger": s.Challenger.Name,
			"Opponent":   s.Opponent.Name,
			"Seconds":    secondsLeft(s.AcceptDeadline, now),
		}, "결투 신청 대기 중")
	}
	return f.Arena(s, now)
}

func (f *Formatter) NoDuel() string {
	return f.cat.Text("duel.status.none", map[string]any{"P": f.Prefix()}, "진행 중인 결투가 없습니다.")
}

func (f *Formatter) Wallet(name string, balance int64) string {
	return f.cat.Text("duel.wallet", map[string]any{"Name": name, "Balance": balance}, name)
}

func (f *Formatter) Reputation(name string, score int64) string {
	return f.cat.Text("duel.rep", map[string]any{"Name": name, "Score": score}, name)
}

// TopEntry is one leaderboard row ready for display.
type TopEntry struct {
	Rank  int
	Name  string
	Score int64
}

func (f *Formatter) Top(entries []TopEntry) string {
	text := strings.TrimRight(f.cat.Text("duel.top", map[string]any{"Entries": entries}, "평판 순위"), "\n")
	if len(entries) <= 3 {
		return text
	}
	return util.FoldFirstLine(text)
}

var errorKeys = []struct {
	err error
	key string
}{
	{duel.ErrAlreadyPending, "duel.err.already_pending"},
	{duel.ErrBusy, "duel.err.busy"},
	{duel.ErrInvalidTarget, "duel.err.invalid_target"},
	{duel.ErrNotAuthorized, "duel.err.not_authorized"},
	{duel.ErrAlreadyMoved, "duel.err.already_moved"},
	{duel.ErrRoundExpired, "duel.err.round_expired"},
	{duel.ErrExpired, "duel.err.expired"},
	{duel.ErrInsufficientFunds, "duel.err.insufficient_funds"},
	{duel.ErrNotFound, "duel.err.not_found"},
	{duel.ErrInvalidMove, "duel.err.invalid_move"},
	{duel.ErrNotActive, "duel.err.not_active"},
	{duel.ErrInvalidArgs, "duel.err.invalid_args"},
}

// Error maps a controller error to a short rejection message.
func (f *Formatter) Error(err error) string {
	key := "duel.err.internal"
	for _, e := range errorKeys {
		if errors.Is(err, e.err) {
			key = e.key
			break
		}
	}
	return f.cat.Text(key, map[string]any{"P": f.Prefix()}, "요청을 처리하지 못했습니다.")
}

func nameOf(s *duel.Session, userID string) string {
	switch userID {
	case s.ChallengerID:
		return s.Challenger.Name
	case s.OpponentID:
		return s.Opponent.Name
	}
	return "id:" + userID
}

func refundOf(s *duel.Session) int64 {
	if s.Wager.ChallengerPaid {
		return s.Wager.Stake
	}
	return 0
}

func secondsLeft(deadline, now time.Time) int {
	if deadline.IsZero() {
		return 0
	}
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
