// Package battle holds the mutable combat state effects resolve against.
package battle

import (
	"sort"
	"sync"

	"github.com/warband/battlecore/pkg/core"
)

// State is the narrow view effects and packs use. Effects never create or
// destroy units; they read copies and write back per-unit deltas.
type State interface {
	// LookupUnit returns a copy of the unit. ok is false for unknown ids.
	LookupUnit(id core.UnitID) (core.Unit, bool)
	// UpdateUnit applies a delta to an existing unit. Unknown ids are ignored.
	UpdateUnit(delta core.UnitState)
}

// Reader is the read-only part of State handed to mechanics.
type Reader interface {
	LookupUnit(id core.UnitID) (core.Unit, bool)
	Units() []core.Unit
}

// Battle is the concrete, mutex-guarded battle state.
type Battle struct {
	mu    sync.RWMutex
	id    string
	seed  int64
	round int
	units map[core.UnitID]*core.Unit
}

// New creates an empty battle
func New(id string, seed int64) *Battle {
	return &Battle{
		id:    id,
		seed:  seed,
		units: make(map[core.UnitID]*core.Unit),
	}
}

// FromInfo builds a battle from a snapshot.
func FromInfo(info core.BattleInfo) *Battle {
	b := New(info.ID, info.Seed)
	b.round = info.Round
	for i := range info.Units {
		u := info.Units[i]
		b.units[u.ID] = &u
	}
	return b
}

// ID returns the battle id
func (b *Battle) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// Seed returns the recorded seed
func (b *Battle) Seed() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seed
}

// Round returns the current round
func (b *Battle) Round() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.round
}

// AddUnit inserts or replaces a unit. Used only when a battle is set up.
func (b *Battle) AddUnit(u core.Unit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units[u.ID] = &u
}

func (b *Battle) LookupUnit(id core.UnitID) (core.Unit, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.units[id]
	if !ok {
		return core.Unit{}, false
	}
	return *u, true
}

func (b *Battle) UpdateUnit(delta core.UnitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.units[delta.ID]; ok {
		u.Apply(delta)
	}
}

// Units returns copies of all units ordered by id.
func (b *Battle) Units() []core.Unit {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Unit, 0, len(b.units))
	for _, u := range b.units {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alive returns the ids of living units on a side.
func (b *Battle) Alive(side core.Side) []core.UnitID {
	var ids []core.UnitID
	for _, u := range b.Units() {
		if u.Side == side && u.Alive() {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// Snapshot returns the full replicable state.
func (b *Battle) Snapshot() core.BattleInfo {
	units := b.Units()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return core.BattleInfo{
		ID:    b.id,
		Seed:  b.seed,
		Round: b.round,
		Units: units,
	}
}

// Clone returns a private deep copy for offline prediction.
func (b *Battle) Clone() *Battle {
	return FromInfo(b.Snapshot())
}

// Reset replaces the whole state from a snapshot.
func (b *Battle) Reset(info core.BattleInfo) {
	units := make(map[core.UnitID]*core.Unit, len(info.Units))
	for i := range info.Units {
		u := info.Units[i]
		units[u.ID] = &u
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = info.ID
	b.seed = info.Seed
	b.round = info.Round
	b.units = units
}
