package combat

import "strings"

// Action is one declared move for a round.
type Action string

const (
	ActionNone      Action = ""
	ActionShoot     Action = "shoot"
	ActionAim       Action = "aim"
	ActionDodge     Action = "dodge"
	ActionReload    Action = "reload"
	ActionHeal      Action = "heal"
	ActionSurrender Action = "surrender"
)

// Moves lists the actions offered on the arena each round, in button order.
var Moves = []Action{ActionShoot, ActionAim, ActionDodge, ActionReload, ActionHeal}

var actionAliases = map[string]Action{
	"shoot": ActionShoot, "fire": ActionShoot, "s": ActionShoot, "쏘기": ActionShoot, "사격": ActionShoot, "발사": ActionShoot,
	"aim": ActionAim, "a": ActionAim, "조준": ActionAim,
	"dodge": ActionDodge, "d": ActionDodge, "회피": ActionDodge, "피하기": ActionDodge,
	"reload": ActionReload, "r": ActionReload, "장전": ActionReload, "재장전": ActionReload,
	"heal": ActionHeal, "h": ActionHeal, "치료": ActionHeal, "회복": ActionHeal,
	"surrender": ActionSurrender, "giveup": ActionSurrender, "항복": ActionSurrender, "기권": ActionSurrender,
}

// ParseAction normalizes user input (Korean, English or one-letter aliases) into an Action.
// Unknown input yields ActionNone and false.
func ParseAction(s string) (Action, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "/")
	a, ok := actionAliases[v]
	return a, ok
}

// Valid reports whether a is a round move the resolver understands.
func (a Action) Valid() bool {
	switch a {
	case ActionShoot, ActionAim, ActionDodge, ActionReload, ActionHeal:
		return true
	default:
		return false
	}
}

// Fighter is one participant's combat state.
type Fighter struct {
	HP         int     `json:"hp"`
	Ammo       int     `json:"ammo"`
	Accuracy   float64 `json:"accuracy"`
	HealedUsed bool    `json:"healed_used"`
	Aimed      bool    `json:"aimed"`
	CritBonus  float64 `json:"crit_bonus"`
	Name       string  `json:"name,omitempty"`
}

// Alive reports whether the fighter still has health left.
func (f Fighter) Alive() bool { return f.HP > 0 }

// Rules holds the tunable constants of a duel.
type Rules struct {
	MaxHP          int
	MaxAmmo        int
	BaseAccuracy   float64
	MaxAccuracy    float64
	AimBonus       float64
	HealAmount     int
	DodgePenalty   float64
	HitFloor       float64
	HitCeil        float64
	FumbleChance   float64
	CritChance     float64
	AimedCrit      float64
	Damage         int
	CritDamage     int
	NearMissMargin float64
}

// DefaultRules returns the standard duel tuning.
func DefaultRules() Rules {
	return Rules{
		MaxHP:          4,
		MaxAmmo:        3,
		BaseAccuracy:   0.35,
		MaxAccuracy:    0.85,
		AimBonus:       0.15,
		HealAmount:     2,
		DodgePenalty:   0.20,
		HitFloor:       0.05,
		HitCeil:        0.95,
		FumbleChance:   0.05,
		CritChance:     0.10,
		AimedCrit:      0.35,
		Damage:         1,
		CritDamage:     2,
		NearMissMargin: 0.05,
	}
}

// NewFighter returns a fresh fighter at full health and ammo.
func (r Rules) NewFighter(name string) Fighter {
	return Fighter{HP: r.MaxHP, Ammo: r.MaxAmmo, Accuracy: r.BaseAccuracy, Name: name}
}

// Clamp forces every bounded field of f back into range.
func (r Rules) Clamp(f Fighter) Fighter {
	f.HP = clampInt(f.HP, 0, r.MaxHP)
	f.Ammo = clampInt(f.Ammo, 0, r.MaxAmmo)
	f.Accuracy = clampFloat(f.Accuracy, r.BaseAccuracy, r.MaxAccuracy)
	if f.CritBonus < 0 {
		f.CritBonus = 0
	}
	return f
}

// Outcome is the state of the duel after a round.
type Outcome string

const (
	OutcomeContinue Outcome = "continue"
	OutcomeAWins    Outcome = "a_wins"
	OutcomeBWins    Outcome = "b_wins"
	OutcomeDraw     Outcome = "draw"
)

// Terminal reports whether the duel is over.
func (o Outcome) Terminal() bool { return o != OutcomeContinue }

// ShotResult classifies one shoot attempt.
type ShotResult string

const (
	ShotNone     ShotResult = ""
	ShotFumble   ShotResult = "fumble"
	ShotDry      ShotResult = "dry"
	ShotMiss     ShotResult = "miss"
	ShotNearMiss ShotResult = "near_miss"
	ShotHit      ShotResult = "hit"
	ShotCrit     ShotResult = "crit"
)

// Landed reports whether the shot dealt damage.
func (s ShotResult) Landed() bool { return s == ShotHit || s == ShotCrit }

// RoundResult is everything one resolution produced.
type RoundResult struct {
	A         Fighter
	B         Fighter
	MoveA     Action
	MoveB     Action
	ShotA     ShotResult
	ShotB     ShotResult
	HealFailA bool
	HealFailB bool
	Narrative []string
	Outcome   Outcome
}

// Roller is the source of randomness for resolution.
type Roller interface {
	Float64() float64
	IntN(n int) int
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
