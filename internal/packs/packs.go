// Package packs defines the delta packs replicated from the simulator to
// observers and the codec turning them into envelopes.
package packs

import (
	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

// Mirror is the state a pack is applied to.
type Mirror interface {
	battle.State
	Reset(info core.BattleInfo)
}

// Pack is one immutable state change.
type Pack interface {
	Type() string
	// Apply mutates m. Units missing from m are skipped.
	Apply(m Mirror)
}

// Logged is implemented by packs carrying battle log lines.
type Logged interface {
	Log() []battlelog.Line
}

// Completing is implemented by packs that finish a request. Reason is
// empty when the request succeeded.
type Completing interface {
	Completes() uint64
	Outcome() (ok bool, reason string)
}

// BattleStart carries the full battle and is the first pack of a stream.
type BattleStart struct {
	Info core.BattleInfo `json:"info"`
}

func (*BattleStart) Type() string { return streaming.TypeBattleStart }

func (p *BattleStart) Apply(m Mirror) {
	info := p.Info
	info.Units = append([]core.Unit(nil), p.Info.Units...)
	m.Reset(info)
}

// StackAttacked is the outcome of damage on one unit.
type StackAttacked struct {
	Target   core.UnitID    `json:"target"`
	Attacker core.UnitID    `json:"attacker"`
	Damage   int64          `json:"damage"`
	Killed   int32          `json:"killed"`
	Reborn   int32          `json:"reborn,omitempty"`
	State    core.UnitState `json:"state"`
}

// StacksInjured groups the damage of one action.
type StacksInjured struct {
	Stacks    []StackAttacked  `json:"stacks"`
	BattleLog []battlelog.Line `json:"battleLog,omitempty"`
}

func (*StacksInjured) Type() string { return streaming.TypeStacksInjured }

func (p *StacksInjured) Apply(m Mirror) {
	for _, s := range p.Stacks {
		if _, ok := m.LookupUnit(s.Target); !ok {
			continue
		}
		m.UpdateUnit(s.State)
	}
}

func (p *StacksInjured) Log() []battlelog.Line { return p.BattleLog }

// StackHealed is the outcome of a heal on one unit.
type StackHealed struct {
	Target  core.UnitID    `json:"target"`
	Healed  int64          `json:"healed"`
	Revived int32          `json:"revived"`
	State   core.UnitState `json:"state"`
}

// StacksHealed groups the heals of one action.
type StacksHealed struct {
	Stacks    []StackHealed    `json:"stacks"`
	BattleLog []battlelog.Line `json:"battleLog,omitempty"`
}

func (*StacksHealed) Type() string { return streaming.TypeStacksHealed }

func (p *StacksHealed) Apply(m Mirror) {
	for _, s := range p.Stacks {
		if _, ok := m.LookupUnit(s.Target); !ok {
			continue
		}
		m.UpdateUnit(s.State)
	}
}

func (p *StacksHealed) Log() []battlelog.Line { return p.BattleLog }

// StackMoved relocates one unit.
type StackMoved struct {
	Unit      core.UnitID      `json:"unit"`
	To        core.Hex         `json:"to"`
	BattleLog []battlelog.Line `json:"battleLog,omitempty"`
}

func (*StackMoved) Type() string { return streaming.TypeStackMoved }

func (p *StackMoved) Apply(m Mirror) {
	u, ok := m.LookupUnit(p.Unit)
	if !ok {
		return
	}
	s := u.State()
	s.Position = p.To
	m.UpdateUnit(s)
}

func (p *StackMoved) Log() []battlelog.Line { return p.BattleLog }

// PackageApplied tells the requester its action was fully resolved.
// It changes no state.
type PackageApplied struct {
	RequestID uint64 `json:"requestId"`
	Result    bool   `json:"result"`
	Reason    string `json:"reason,omitempty"`
}

func (*PackageApplied) Type() string { return streaming.TypePackageApplied }

func (*PackageApplied) Apply(Mirror) {}

func (p *PackageApplied) Completes() uint64 { return p.RequestID }

func (p *PackageApplied) Outcome() (bool, string) { return p.Result, p.Reason }
