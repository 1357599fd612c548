package combat

import (
	"strings"
	"testing"
)

// scripted replays fixed draws; once exhausted it keeps returning last.
type scripted struct {
	vals []float64
	last float64
}

func (s *scripted) Float64() float64 {
	if len(s.vals) == 0 {
		return s.last
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v
}

func (s *scripted) IntN(int) int { return 0 }

func rolls(v ...float64) *scripted { return &scripted{vals: v, last: 0.99} }

func fighters(r Rules) (Fighter, Fighter) {
	a := r.NewFighter("A")
	b := r.NewFighter("B")
	return a, b
}

func TestResolve_AimVsDodge(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	res := Resolve(a, b, ActionAim, ActionDodge, r, rolls())

	if res.A.HP != 4 || res.B.HP != 4 {
		t.Fatalf("hp changed: a=%d b=%d", res.A.HP, res.B.HP)
	}
	if got, want := res.A.Accuracy, 0.35+r.AimBonus; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("accuracy = %v, want %v", got, want)
	}
	if !res.A.Aimed {
		t.Fatalf("expected aimed flag to carry into next round")
	}
	if res.Outcome != OutcomeContinue {
		t.Fatalf("outcome = %s, want continue", res.Outcome)
	}
	if len(res.Narrative) == 0 {
		t.Fatalf("expected narrative lines")
	}
}

func TestResolve_AimClampedAtMax(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Accuracy = r.MaxAccuracy - 0.01
	res := Resolve(a, b, ActionAim, ActionDodge, r, rolls())
	if res.A.Accuracy != r.MaxAccuracy {
		t.Fatalf("accuracy = %v, want clamp at %v", res.A.Accuracy, r.MaxAccuracy)
	}
}

func TestResolve_HealOnlyOnce(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.HP = 1

	first := Resolve(a, b, ActionHeal, ActionDodge, r, rolls())
	if first.A.HP != 3 || !first.A.HealedUsed || first.HealFailA {
		t.Fatalf("first heal: hp=%d used=%v fail=%v", first.A.HP, first.A.HealedUsed, first.HealFailA)
	}

	second := Resolve(first.A, first.B, ActionHeal, ActionDodge, r, rolls())
	if second.A.HP != first.A.HP {
		t.Fatalf("second heal changed hp: %d -> %d", first.A.HP, second.A.HP)
	}
	if !second.HealFailA {
		t.Fatalf("expected failed heal to be reported")
	}
}

func TestResolve_HealClampedToMax(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	res := Resolve(a, b, ActionHeal, ActionDodge, r, rolls())
	if res.A.HP != r.MaxHP {
		t.Fatalf("hp = %d, want %d", res.A.HP, r.MaxHP)
	}
}

func TestResolve_DryFireNeverDamages(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Ammo = 0
	res := Resolve(a, b, ActionShoot, ActionReload, r, rolls(0.9, 0.0, 0.0))
	if res.ShotA != ShotDry {
		t.Fatalf("shot = %s, want dry", res.ShotA)
	}
	if res.B.HP != r.MaxHP {
		t.Fatalf("target hp = %d, want %d", res.B.HP, r.MaxHP)
	}
	if res.A.Ammo != 0 {
		t.Fatalf("ammo = %d, want 0", res.A.Ammo)
	}
}

func TestResolve_FumbleKeepsAmmo(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Aimed = true
	res := Resolve(a, b, ActionShoot, ActionReload, r, rolls(0.01))
	if res.ShotA != ShotFumble {
		t.Fatalf("shot = %s, want fumble", res.ShotA)
	}
	if res.A.Ammo != r.MaxAmmo || res.B.HP != r.MaxHP {
		t.Fatalf("fumble mutated state: ammo=%d target hp=%d", res.A.Ammo, res.B.HP)
	}
	if res.A.Aimed {
		t.Fatalf("aimed must be cleared after a shot")
	}
}

func TestResolve_BothDodgeNothingHappens(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	res := Resolve(a, b, ActionDodge, ActionDodge, r, rolls())
	if res.A != a || res.B != b {
		t.Fatalf("state changed on double dodge: %+v %+v", res.A, res.B)
	}
	if res.Outcome != OutcomeContinue {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestResolve_AimedCritKills(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Aimed = true
	a.Accuracy = r.MaxAccuracy
	b.HP = 2
	// no fumble, hit (0.10 < 0.85), crit (0.20 < aimed 0.35)
	res := Resolve(a, b, ActionShoot, ActionReload, r, rolls(0.5, 0.10, 0.20))
	if res.ShotA != ShotCrit {
		t.Fatalf("shot = %s, want crit", res.ShotA)
	}
	if res.B.HP != 0 || res.Outcome != OutcomeAWins {
		t.Fatalf("hp=%d outcome=%s", res.B.HP, res.Outcome)
	}
	if res.A.Ammo != r.MaxAmmo-1 {
		t.Fatalf("ammo = %d", res.A.Ammo)
	}
}

func TestResolve_UnaimedRollMissesCrit(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Accuracy = r.MaxAccuracy
	res := Resolve(a, b, ActionShoot, ActionReload, r, rolls(0.5, 0.10, 0.20))
	if res.ShotA != ShotHit || res.B.HP != r.MaxHP-r.Damage {
		t.Fatalf("shot=%s hp=%d", res.ShotA, res.B.HP)
	}
}

func TestResolve_CritBonusAdds(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.Accuracy = r.MaxAccuracy
	a.CritBonus = 0.5
	res := Resolve(a, b, ActionShoot, ActionReload, r, rolls(0.5, 0.10, 0.55))
	if res.ShotA != ShotCrit {
		t.Fatalf("shot = %s, want crit with bonus", res.ShotA)
	}
}

func TestResolve_DodgePenaltyAndNearMiss(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	// chance 0.35 - 0.20 = 0.15; draw 0.17 is within the near-miss margin
	res := Resolve(a, b, ActionShoot, ActionDodge, r, rolls(0.5, 0.17))
	if res.ShotA != ShotNearMiss {
		t.Fatalf("shot = %s, want near miss", res.ShotA)
	}
	if res.B.HP != r.MaxHP {
		t.Fatalf("near miss dealt damage")
	}
	found := false
	for _, l := range res.Narrative {
		if strings.Contains(l, "아슬아슬") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected near-miss line in %v", res.Narrative)
	}
}

func TestResolve_DoubleKillIsDraw(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	a.HP, b.HP = 1, 1
	a.Accuracy, b.Accuracy = r.MaxAccuracy, r.MaxAccuracy
	res := Resolve(a, b, ActionShoot, ActionShoot, r, rolls(0.5, 0.1, 0.9, 0.5, 0.1, 0.9))
	if res.Outcome != OutcomeDraw {
		t.Fatalf("outcome = %s, want draw", res.Outcome)
	}
	if res.A.HP != 0 || res.B.HP != 0 {
		t.Fatalf("hp a=%d b=%d", res.A.HP, res.B.HP)
	}
}

func TestResolve_InvalidMovesBecomeDodge(t *testing.T) {
	r := DefaultRules()
	a, b := fighters(r)
	res := Resolve(a, b, Action("dance"), ActionNone, r, rolls())
	if res.MoveA != ActionDodge || res.MoveB != ActionDodge {
		t.Fatalf("moves = %s/%s", res.MoveA, res.MoveB)
	}
}

func TestResolve_BoundsHoldUnderRandomPlay(t *testing.T) {
	r := DefaultRules()
	roll := NewRoller()
	a, b := fighters(r)
	for i := 0; i < 2000; i++ {
		ma := Moves[roll.IntN(len(Moves))]
		mb := Moves[roll.IntN(len(Moves))]
		res := Resolve(a, b, ma, mb, r, roll)
		for _, f := range []Fighter{res.A, res.B} {
			if f.HP < 0 || f.HP > r.MaxHP || f.Ammo < 0 || f.Ammo > r.MaxAmmo {
				t.Fatalf("out of bounds: %+v", f)
			}
			if f.Accuracy < r.BaseAccuracy || f.Accuracy > r.MaxAccuracy {
				t.Fatalf("accuracy out of bounds: %+v", f)
			}
		}
		if res.A.HP > a.HP && ma != ActionHeal {
			t.Fatalf("hp rose without heal: %d -> %d", a.HP, res.A.HP)
		}
		a, b = res.A, res.B
		if res.Outcome.Terminal() {
			a, b = fighters(r)
		}
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"쏘기": ActionShoot, "SHOOT": ActionShoot, " s ": ActionShoot,
		"조준": ActionAim, "회피": ActionDodge, "/reload": ActionReload,
		"치료": ActionHeal, "항복": ActionSurrender,
	}
	for in, want := range cases {
		got, ok := ParseAction(in)
		if !ok || got != want {
			t.Fatalf("ParseAction(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseAction("춤"); ok {
		t.Fatalf("expected unknown alias to be rejected")
	}
}
