package effects

import (
	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/pkg/core"
)

// TeleportKey is the registry key of Teleport.
const TeleportKey = "core:teleport"

func init() {
	Register(TeleportKey, func(level int) Effect { return NewTeleport(level) })
}

// Teleport moves the first target unit to the hex of the last destination.
type Teleport struct {
	unitEffect
}

// NewTeleport creates a Teleport effect
func NewTeleport(level int) *Teleport {
	return &Teleport{unitEffect{level: level}}
}

func (*Teleport) Key() string { return TeleportKey }

func (*Teleport) IsValidTarget(_ *mechanics.Context, u core.Unit) bool {
	return u.Alive()
}

type unitLister interface {
	Units() []core.Unit
}

// destination picks the moving unit and its hex. ok is false when the
// target carries no hex, the unit is gone, or the hex is taken.
func destination(lookup unitLookup, occupied func(core.Hex, core.UnitID) bool, target core.Target) (core.Unit, core.Hex, bool) {
	if len(target) == 0 {
		return core.Unit{}, core.Hex{}, false
	}
	var hex *core.Hex
	for i := len(target) - 1; i >= 0; i-- {
		if target[i].Hex != nil {
			hex = target[i].Hex
			break
		}
	}
	if hex == nil {
		return core.Unit{}, core.Hex{}, false
	}
	u, ok := lookup(target[0].Unit)
	if !ok || !u.Alive() || u.Position == *hex {
		return core.Unit{}, core.Hex{}, false
	}
	if occupied(*hex, u.ID) {
		return core.Unit{}, core.Hex{}, false
	}
	return u, *hex, true
}

func occupiedIn(units func() []core.Unit) func(core.Hex, core.UnitID) bool {
	return func(h core.Hex, self core.UnitID) bool {
		if units == nil {
			return false
		}
		for _, other := range units() {
			if other.ID != self && other.Alive() && other.Position == h {
				return true
			}
		}
		return false
	}
}

func (t *Teleport) ApplyNetworked(sender Sender, _ rng.Source, m *mechanics.Context, target core.Target) {
	var units func() []core.Unit
	if b := m.Battle(); b != nil {
		units = b.Units
	}
	u, to, ok := destination(m.LookupUnit, occupiedIn(units), target)
	if !ok {
		return
	}
	sender.SendAndApply(&packs.StackMoved{
		Unit:      u.ID,
		To:        to,
		BattleLog: []battlelog.Line{battlelog.New(battlelog.KeySpellMove, battlelog.Text(u.DisplayName(u.Count > 1)))},
	})
}

func (t *Teleport) ApplySimulated(state battle.State, _ *mechanics.Context, target core.Target) {
	var units func() []core.Unit
	if l, ok := state.(unitLister); ok {
		units = l.Units
	}
	u, to, ok := destination(state.LookupUnit, occupiedIn(units), target)
	if !ok {
		return
	}
	s := u.State()
	s.Position = to
	state.UpdateUnit(s)
}

func (*Teleport) SerializeConfig(Handler) error { return nil }
