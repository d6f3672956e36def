package effects

import (
	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/pkg/core"
)

// DamageKey is the registry key of Damage.
const DamageKey = "core:damage"

func init() {
	Register(DamageKey, func(level int) Effect { return NewDamage(level) })
}

// Damage removes health from every living target.
type Damage struct {
	unitEffect
}

// NewDamage creates a Damage effect
func NewDamage(level int) *Damage {
	return &Damage{unitEffect{level: level}}
}

func (*Damage) Key() string { return DamageKey }

func (*Damage) IsValidTarget(_ *mechanics.Context, u core.Unit) bool {
	return u.Alive()
}

// damageFor is the per-unit amount both paths apply.
func damageFor(m *mechanics.Context, u core.Unit, raw int64) int64 {
	return m.AdjustRawDamage(u, raw)
}

func (d *Damage) ApplyNetworked(sender Sender, r rng.Source, m *mechanics.Context, target core.Target) {
	raw := m.EffectValue()
	injured := &packs.StacksInjured{}

	var (
		damageToDisplay int64
		killed          int32
		first           *core.Unit
		reborn          []core.Unit
	)

	eachTarget(m.LookupUnit, target, alive, func(u core.Unit) {
		if first == nil {
			cp := u
			first = &cp
		}
		amount := damageFor(m, u, raw)
		k := u.Damage(amount)
		whole, frac := rebirthShare(u)
		if frac > 0 && r != nil && int64(r.Intn(100)) < frac {
			whole++
		}
		back := revive(&u, whole)
		if back > 0 {
			reborn = append(reborn, u)
		}

		damageToDisplay += amount
		killed += k
		injured.Stacks = append(injured.Stacks, packs.StackAttacked{
			Target:   u.ID,
			Attacker: core.NoUnit,
			Damage:   amount,
			Killed:   k,
			Reborn:   back,
			State:    u.State(),
		})
	})

	if len(injured.Stacks) == 0 {
		return
	}

	injured.BattleLog = append(injured.BattleLog,
		battlelog.New(battlelog.KeySpellDamage, battlelog.Text(m.Spell().Name), battlelog.Number(damageToDisplay)))
	if line, ok := killLine(killed, len(injured.Stacks) > 1, first); ok {
		injured.BattleLog = append(injured.BattleLog, line)
	}
	for _, u := range reborn {
		injured.BattleLog = append(injured.BattleLog,
			battlelog.New(battlelog.KeyRebirth, battlelog.Number(int64(u.Count)), battlelog.Text(u.DisplayName(u.Count > 1))))
	}

	sender.SendAndApply(injured)
}

// killLine phrases the casualties. More than one target, or no known
// first target, falls back to the collective creature word.
func killLine(killed int32, multiple bool, first *core.Unit) (battlelog.Line, bool) {
	// Unlike older clients, a hit that kills nothing gets no casualty line.
	if killed <= 0 {
		return battlelog.Line{}, false
	}
	named := !multiple && first != nil
	if killed > 1 {
		who := battlelog.Ref(battlelog.KeyCreatures)
		if named {
			who = battlelog.Text(first.DisplayName(true))
		}
		return battlelog.New(battlelog.KeyPerishMany, battlelog.Number(int64(killed)), who), true
	}
	who := battlelog.Ref(battlelog.KeyCreature)
	if named {
		who = battlelog.Text(first.DisplayName(false))
	}
	return battlelog.New(battlelog.KeyPerishOne, who), true
}

// rebirthShare splits InitialCount*Rebirth/100 for a destroyed unit
// that has not been revived yet. The whole part always comes back; frac
// is the percent chance of one more.
func rebirthShare(u core.Unit) (whole, frac int64) {
	if u.Alive() || u.Reborn || u.Rebirth <= 0 || u.InitialCount <= 0 {
		return 0, 0
	}
	scaled := int64(u.InitialCount) * int64(u.Rebirth)
	return scaled / 100, scaled % 100
}

// revive brings back count creatures at full health, once.
func revive(u *core.Unit, count int64) int32 {
	if count <= 0 {
		return 0
	}
	u.Count = int32(count)
	u.FirstHPLeft = u.MaxHealth
	u.Reborn = true
	return u.Count
}

func (d *Damage) ApplySimulated(state battle.State, m *mechanics.Context, target core.Target) {
	raw := m.EffectValue()
	eachTarget(state.LookupUnit, target, alive, func(u core.Unit) {
		u.Damage(damageFor(m, u, raw))
		whole, _ := rebirthShare(u)
		revive(&u, whole)
		state.UpdateUnit(u.State())
	})
}

// SerializeConfig is a no-op: damage has no parameters of its own.
func (*Damage) SerializeConfig(Handler) error { return nil }
