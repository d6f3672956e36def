// pkg/core/battle.go
package core

import "time"

// BattleInfo is a full snapshot of a battle, replicated to every observer
// before any delta.
type BattleInfo struct {
	ID        string    `json:"id" yaml:"id"`
	Seed      int64     `json:"seed" yaml:"seed"`
	Round     int       `json:"round" yaml:"round"`
	StartTime time.Time `json:"startTime" yaml:"-"`
	Units     []Unit    `json:"units" yaml:"units"`
}

// PackRecord is one journaled delta pack
type PackRecord struct {
	BattleID string
	Seq      uint64
	Type     string
	Payload  []byte
	Time     time.Time
}

// ActionRecord summarises one resolved action for metrics
type ActionRecord struct {
	BattleID  string
	RequestID uint64
	Spell     string
	Caster    UnitID
	Targets   int
	Damage    int64
	Healed    int64
	Killed    int32
	Revived   int32
	Duration  time.Duration
	Time      time.Time
}

// Destination is one entry of an effect target: a unit and, for effects
// that need it, a hex.
type Destination struct {
	Unit UnitID `json:"unit"`
	Hex  *Hex   `json:"hex,omitempty"`
}

// Target is the ordered destination list an effect resolves against.
type Target []Destination

// Units builds a target from unit ids
func Units(ids ...UnitID) Target {
	t := make(Target, 0, len(ids))
	for _, id := range ids {
		t = append(t, Destination{Unit: id})
	}
	return t
}
