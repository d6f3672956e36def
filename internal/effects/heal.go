package effects

import (
	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/pkg/core"
)

// HealKey is the registry key of Heal.
const HealKey = "core:heal"

var (
	healLevelNames = []string{"heal", "resurrect", "overHeal"}
	healPowerNames = []string{"oneBattle", "permanent"}
)

func init() {
	Register(HealKey, func(level int) Effect { return NewHeal(level) })
}

// Heal restores health and, depending on its level policy, dead creatures.
type Heal struct {
	unitEffect

	HealLevel core.HealLevel
	HealPower core.HealPower
	// MinFullUnits caps how many creatures one cast may bring back to full
	// health. Zero means no cap.
	MinFullUnits int
}

// NewHeal creates a Heal restoring the top creature only.
func NewHeal(level int) *Heal {
	return &Heal{
		unitEffect: unitEffect{level: level},
		HealLevel:  core.HealLevelHeal,
		HealPower:  core.HealPowerPermanent,
	}
}

func (*Heal) Key() string { return HealKey }

// IsValidTarget rejects units a heal could not change: dead units unless
// the level resurrects, and units already at their bound.
func (h *Heal) IsValidTarget(_ *mechanics.Context, u core.Unit) bool {
	return u.Injured(h.HealLevel)
}

func (h *Heal) valid(u core.Unit) bool {
	return h.IsValidTarget(nil, u)
}

// healFor applies the heal to u and reports what changed.
func (h *Heal) healFor(u *core.Unit, amount int64) (int64, int32) {
	if h.MinFullUnits > 0 && h.HealLevel != core.HealLevelHeal && u.MaxHealth > 0 {
		limit := (int64(u.Count) + int64(h.MinFullUnits)) * u.MaxHealth
		if room := limit - u.TotalHealth(); amount > room {
			amount = room
		}
	}
	return u.Heal(amount, h.HealLevel, h.HealPower)
}

func (h *Heal) ApplyNetworked(sender Sender, _ rng.Source, m *mechanics.Context, target core.Target) {
	value := m.EffectValue()
	healed := &packs.StacksHealed{}

	var (
		total   int64
		revived int32
		first   *core.Unit
	)
	eachTarget(m.LookupUnit, target, h.valid, func(u core.Unit) {
		amount, back := h.healFor(&u, value)
		if amount <= 0 {
			return
		}
		if first == nil {
			cp := u
			first = &cp
		}
		total += amount
		revived += back
		healed.Stacks = append(healed.Stacks, packs.StackHealed{
			Target:  u.ID,
			Healed:  amount,
			Revived: back,
			State:   u.State(),
		})
	})

	if len(healed.Stacks) == 0 {
		return
	}

	healed.BattleLog = append(healed.BattleLog,
		battlelog.New(battlelog.KeySpellHeal, battlelog.Text(m.Spell().Name), battlelog.Number(total)))
	if revived > 0 {
		who := battlelog.Ref(battlelog.KeyCreatures)
		if len(healed.Stacks) == 1 && first != nil {
			who = battlelog.Text(first.DisplayName(revived > 1))
		}
		healed.BattleLog = append(healed.BattleLog,
			battlelog.New(battlelog.KeySpellRaise, battlelog.Number(int64(revived)), who))
	}

	sender.SendAndApply(healed)
}

func (h *Heal) ApplySimulated(state battle.State, m *mechanics.Context, target core.Target) {
	value := m.EffectValue()
	eachTarget(state.LookupUnit, target, h.valid, func(u core.Unit) {
		if amount, _ := h.healFor(&u, value); amount > 0 {
			state.UpdateUnit(u.State())
		}
	})
}

func (h *Heal) SerializeConfig(handler Handler) error {
	level := int(h.HealLevel)
	power := int(h.HealPower)
	if err := handler.Enum("healLevel", &level, int(core.HealLevelHeal), healLevelNames); err != nil {
		return err
	}
	if err := handler.Enum("healPower", &power, int(core.HealPowerPermanent), healPowerNames); err != nil {
		return err
	}
	if err := handler.Int("minFullUnits", &h.MinFullUnits, 0); err != nil {
		return err
	}
	if handler.Saving() {
		return nil
	}
	h.MinFullUnits = max(h.MinFullUnits, 0)
	h.HealLevel = core.HealLevel(level)
	h.HealPower = core.HealPower(power)
	return nil
}
