package combat

import "fmt"

var missLines = []string{
	"총알이 귀를 스치고 지나갔다.",
	"먼지만 피어올랐다.",
	"총알이 애꿎은 선인장에 박혔다.",
	"허공을 갈랐다.",
	"까마귀가 놀라 날아갔다.",
}

var epicLines = []string{
	"관중들이 숨을 죽인다.",
	"바람이 멎었다.",
	"술집 피아노 소리가 뚝 끊겼다.",
}

// Resolve settles one round between a and b. Missing or illegal moves count as dodge.
// It never fails: every field is clamped to its range before and after the round.
func Resolve(a, b Fighter, moveA, moveB Action, rules Rules, roll Roller) RoundResult {
	if !moveA.Valid() {
		moveA = ActionDodge
	}
	if !moveB.Valid() {
		moveB = ActionDodge
	}
	a = rules.Clamp(a)
	b = rules.Clamp(b)
	res := RoundResult{MoveA: moveA, MoveB: moveB}

	// aim from the previous round is consumed by this resolution
	aimedA, aimedB := a.Aimed, b.Aimed
	a.Aimed, b.Aimed = false, false

	var healOK bool
	a, healOK = applyPassive(a, moveA, rules)
	res.HealFailA = moveA == ActionHeal && !healOK
	b, healOK = applyPassive(b, moveB, rules)
	res.HealFailB = moveB == ActionHeal && !healOK
	res.Narrative = append(res.Narrative, passiveLine(a, moveA, res.HealFailA, rules)...)
	res.Narrative = append(res.Narrative, passiveLine(b, moveB, res.HealFailB, rules)...)

	var dmgToB, dmgToA int
	if moveA == ActionShoot {
		res.ShotA, dmgToB = shoot(&a, aimedA, moveB == ActionDodge, rules, roll)
		res.Narrative = append(res.Narrative, shotLine(a.Name, b.Name, res.ShotA, roll))
	}
	if moveB == ActionShoot {
		res.ShotB, dmgToA = shoot(&b, aimedB, moveA == ActionDodge, rules, roll)
		res.Narrative = append(res.Narrative, shotLine(b.Name, a.Name, res.ShotB, roll))
	}
	a.HP -= dmgToA
	b.HP -= dmgToB
	a = rules.Clamp(a)
	b = rules.Clamp(b)

	if moveA == ActionShoot && moveB == ActionShoot && !res.ShotA.Landed() && !res.ShotB.Landed() {
		res.Narrative = append(res.Narrative, "둘 다 빗나갔다! "+pick(epicLines, roll))
	}
	if res.ShotA == ShotNearMiss || res.ShotB == ShotNearMiss {
		res.Narrative = append(res.Narrative, "아슬아슬했다! "+pick(epicLines, roll))
	}
	if a.HP == 1 && b.HP == 1 {
		res.Narrative = append(res.Narrative, "두 사람 모두 체력 1. "+pick(epicLines, roll))
	}

	switch {
	case !a.Alive() && !b.Alive():
		res.Outcome = OutcomeDraw
		res.Narrative = append(res.Narrative, "두 총잡이가 동시에 쓰러졌다. 무승부!")
	case !b.Alive():
		res.Outcome = OutcomeAWins
		res.Narrative = append(res.Narrative, fmt.Sprintf("%s 쓰러졌다. %s 승리!", b.Name, a.Name))
	case !a.Alive():
		res.Outcome = OutcomeBWins
		res.Narrative = append(res.Narrative, fmt.Sprintf("%s 쓰러졌다. %s 승리!", a.Name, b.Name))
	default:
		res.Outcome = OutcomeContinue
		if moveA == ActionDodge && moveB == ActionDodge {
			res.Narrative = append(res.Narrative, "둘 다 몸을 숨겼다. 아무 일도 일어나지 않았다.")
		}
	}
	res.A, res.B = a, b
	return res
}

// applyPassive applies a non-offensive action. The bool is false only for a rejected heal.
func applyPassive(f Fighter, move Action, rules Rules) (Fighter, bool) {
	switch move {
	case ActionAim:
		f.Accuracy = clampFloat(f.Accuracy+rules.AimBonus, rules.BaseAccuracy, rules.MaxAccuracy)
		f.Aimed = true
	case ActionReload:
		f.Ammo = rules.MaxAmmo
	case ActionHeal:
		if f.HealedUsed {
			return f, false
		}
		f.HP = clampInt(f.HP+rules.HealAmount, 0, rules.MaxHP)
		f.HealedUsed = true
	}
	return f, true
}

// shoot evaluates one shot and returns the damage it deals to the target.
func shoot(f *Fighter, aimed, targetDodged bool, rules Rules, roll Roller) (ShotResult, int) {
	if roll.Float64() < rules.FumbleChance {
		return ShotFumble, 0
	}
	if f.Ammo <= 0 {
		f.Ammo = 0
		return ShotDry, 0
	}
	f.Ammo--

	chance := f.Accuracy
	if targetDodged {
		chance -= rules.DodgePenalty
	}
	chance = clampFloat(chance, rules.HitFloor, rules.HitCeil)

	r := roll.Float64()
	if r >= chance {
		if r-chance < rules.NearMissMargin {
			return ShotNearMiss, 0
		}
		return ShotMiss, 0
	}

	crit := rules.CritChance
	if aimed {
		crit = rules.AimedCrit
	}
	crit += f.CritBonus
	if roll.Float64() < crit {
		return ShotCrit, rules.CritDamage
	}
	return ShotHit, rules.Damage
}

func passiveLine(f Fighter, move Action, healFailed bool, rules Rules) []string {
	switch move {
	case ActionAim:
		return []string{fmt.Sprintf("%s 신중하게 조준한다. (명중률 %d%%)", f.Name, percent(f.Accuracy))}
	case ActionReload:
		return []string{fmt.Sprintf("%s 재장전했다. (탄약 %d/%d)", f.Name, f.Ammo, rules.MaxAmmo)}
	case ActionHeal:
		if healFailed {
			return []string{fmt.Sprintf("%s 붕대를 찾았지만 이미 다 써버렸다.", f.Name)}
		}
		return []string{fmt.Sprintf("%s 상처를 동여맸다. (체력 %d/%d)", f.Name, f.HP, rules.MaxHP)}
	case ActionDodge:
		return []string{fmt.Sprintf("%s 몸을 낮춰 피했다.", f.Name)}
	}
	return nil
}

func shotLine(shooter, target string, shot ShotResult, roll Roller) string {
	switch shot {
	case ShotFumble:
		return fmt.Sprintf("%s 총이 불발됐다!", shooter)
	case ShotDry:
		return fmt.Sprintf("%s 방아쇠를 당겼지만 찰칵, 탄창이 비었다.", shooter)
	case ShotNearMiss:
		return fmt.Sprintf("%s 총알이 %s 코앞을 스쳤다!", shooter, target)
	case ShotMiss:
		return fmt.Sprintf("%s 빗나갔다. %s", shooter, pick(missLines, roll))
	case ShotHit:
		return fmt.Sprintf("%s 명중! %s 부상을 입었다.", shooter, target)
	case ShotCrit:
		return fmt.Sprintf("%s 치명타! %s 크게 휘청인다.", shooter, target)
	}
	return ""
}

func pick(pool []string, roll Roller) string {
	if len(pool) == 0 {
		return ""
	}
	i := roll.IntN(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}

func percent(v float64) int { return int(v*100 + 0.5) }
