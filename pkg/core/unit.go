// pkg/core/unit.go
package core

import (
	"fmt"
	"math"
)

// UnitID identifies a unit (stack) within one battle
type UnitID int32

// NoUnit is used where an attacker or caster is absent.
const NoUnit UnitID = -1

// Side is the battle affiliation of a unit.
type Side uint8

const (
	SideAttacker Side = iota
	SideDefender
)

func (s Side) String() string {
	switch s {
	case SideAttacker:
		return "attacker"
	case SideDefender:
		return "defender"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "attacker", "0":
		*s = SideAttacker
	case "defender", "1":
		*s = SideDefender
	default:
		return fmt.Errorf("invalid side %q", string(b))
	}
	return nil
}

// Hex is a battlefield position.
type Hex struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// HealLevel bounds how far a heal may restore a unit.
type HealLevel uint8

const (
	// HealLevelHeal restores the wounded top creature only.
	HealLevelHeal HealLevel = iota
	// HealLevelResurrect revives dead creatures up to the initial count.
	HealLevelResurrect
	// HealLevelOverheal revives creatures beyond the initial count.
	HealLevelOverheal
)

// HealPower decides whether revived creatures outlive the battle.
type HealPower uint8

const (
	HealPowerOneBattle HealPower = iota
	HealPowerPermanent
)

// Unit is a stack of identical creatures on the battlefield.
// Health is tracked as a count of creatures plus the remaining health of
// the top creature; everything else is derived from those two numbers.
type Unit struct {
	ID         UnitID `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	PluralName string `json:"pluralName" yaml:"pluralName"`
	Side       Side   `json:"side" yaml:"side"`
	Position   Hex    `json:"position" yaml:"position"`

	MaxHealth    int64 `json:"maxHealth" yaml:"maxHealth"`
	Count        int32 `json:"count" yaml:"count"`
	FirstHPLeft  int64 `json:"firstHPLeft" yaml:"firstHPLeft"`
	InitialCount int32 `json:"initialCount" yaml:"initialCount"`
	Resurrected  int32 `json:"resurrected" yaml:"resurrected"`

	// Rebirth is the percentage of InitialCount revived once on death.
	Rebirth int32 `json:"rebirth" yaml:"rebirth"`
	Reborn  bool  `json:"reborn" yaml:"reborn"`

	Defense    int64 `json:"defense" yaml:"defense"`
	Resistance int64 `json:"resistance" yaml:"resistance"`
	SpellPower int64 `json:"spellPower" yaml:"spellPower"`
}

// Alive reports whether at least one creature of the stack is left.
func (u *Unit) Alive() bool {
	return u != nil && u.Count > 0
}

// TotalHealth is the summed health of all living creatures.
func (u *Unit) TotalHealth() int64 {
	if u.Count <= 0 {
		return 0
	}
	return int64(u.Count-1)*u.MaxHealth + u.FirstHPLeft
}

// AvailableHealth is the upper bound for TotalHealth under the given heal level.
func (u *Unit) AvailableHealth(level HealLevel) int64 {
	switch level {
	case HealLevelHeal:
		return int64(u.Count) * u.MaxHealth
	case HealLevelResurrect:
		limit := int64(u.InitialCount) * u.MaxHealth
		if current := int64(u.Count) * u.MaxHealth; current > limit {
			return current
		}
		return limit
	default:
		return math.MaxInt64
	}
}

// Injured reports whether a heal at the given level could restore anything.
func (u *Unit) Injured(level HealLevel) bool {
	if u.MaxHealth <= 0 {
		return false
	}
	if level == HealLevelHeal && !u.Alive() {
		return false
	}
	return u.TotalHealth() < u.AvailableHealth(level)
}

func (u *Unit) setFromTotal(total int64) {
	if total <= 0 || u.MaxHealth <= 0 {
		u.Count = 0
		u.FirstHPLeft = 0
		return
	}
	count := (total-1)/u.MaxHealth + 1
	if count > math.MaxInt32 {
		u.Count = math.MaxInt32
		u.FirstHPLeft = u.MaxHealth
		return
	}
	u.Count = int32(count)
	u.FirstHPLeft = total - (count-1)*u.MaxHealth
}

// Damage removes amount health, clamped at zero, and returns the number
// of creatures killed. Killed creatures are taken from the resurrected
// pool first.
func (u *Unit) Damage(amount int64) (killed int32) {
	if amount <= 0 || !u.Alive() {
		return 0
	}
	before := u.Count
	total := u.TotalHealth() - amount
	if total < 0 {
		total = 0
	}
	u.setFromTotal(total)
	killed = before - u.Count
	u.Resurrected -= killed
	if u.Resurrected < 0 {
		u.Resurrected = 0
	}
	return killed
}

// Heal restores up to amount health within the bounds of level and
// returns the health actually restored and the creatures revived.
func (u *Unit) Heal(amount int64, level HealLevel, power HealPower) (healed int64, revived int32) {
	if amount <= 0 || u.MaxHealth <= 0 {
		return 0, 0
	}
	if level == HealLevelHeal && !u.Alive() {
		return 0, 0
	}
	total := u.TotalHealth()
	if room := u.AvailableHealth(level) - total; amount > room {
		amount = room
	}
	if amount <= 0 {
		return 0, 0
	}
	before := u.Count
	u.setFromTotal(total + amount)
	revived = u.Count - before
	if power == HealPowerOneBattle {
		u.Resurrected += revived
	}
	return amount, revived
}

// UnitState is the replicated part of a unit.
type UnitState struct {
	ID          UnitID `json:"id"`
	Count       int32  `json:"count"`
	FirstHPLeft int64  `json:"firstHPLeft"`
	Resurrected int32  `json:"resurrected"`
	Reborn      bool   `json:"reborn,omitempty"`
	Position    Hex    `json:"position"`
}

// State captures the replicated fields of u.
func (u *Unit) State() UnitState {
	return UnitState{
		ID:          u.ID,
		Count:       u.Count,
		FirstHPLeft: u.FirstHPLeft,
		Resurrected: u.Resurrected,
		Reborn:      u.Reborn,
		Position:    u.Position,
	}
}

// Apply overwrites the replicated fields of u with s.
func (u *Unit) Apply(s UnitState) {
	u.Count = s.Count
	if u.Count < 0 {
		u.Count = 0
	}
	u.FirstHPLeft = s.FirstHPLeft
	if u.FirstHPLeft < 0 || u.Count == 0 {
		u.FirstHPLeft = 0
	}
	if u.MaxHealth > 0 && u.FirstHPLeft > u.MaxHealth {
		u.FirstHPLeft = u.MaxHealth
	}
	u.Resurrected = s.Resurrected
	u.Reborn = s.Reborn
	u.Position = s.Position
}

// DisplayName returns the singular or plural creature name.
func (u *Unit) DisplayName(plural bool) string {
	if plural && u.PluralName != "" {
		return u.PluralName
	}
	return u.Name
}
