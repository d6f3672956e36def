package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newStack(count int32, maxHealth int64) Unit {
	return Unit{
		ID:           1,
		Name:         "Pikeman",
		PluralName:   "Pikemen",
		MaxHealth:    maxHealth,
		Count:        count,
		FirstHPLeft:  maxHealth,
		InitialCount: count,
	}
}

func TestUnit_TotalHealth(t *testing.T) {
	u := newStack(5, 10)
	u.FirstHPLeft = 4
	assert.Equal(t, int64(44), u.TotalHealth())

	u.Count = 0
	assert.Equal(t, int64(0), u.TotalHealth())
}

func TestUnit_Damage(t *testing.T) {
	tests := []struct {
		name       string
		count      int32
		amount     int64
		wantKilled int32
		wantCount  int32
		wantFirst  int64
	}{
		{"scratch", 5, 3, 0, 5, 7},
		{"exactly one creature", 5, 10, 1, 4, 10},
		{"partial kill", 5, 25, 2, 3, 5},
		{"exactly all", 5, 50, 5, 0, 0},
		{"overkill clamps to zero", 5, 500, 5, 0, 0},
		{"negative amount ignored", 5, -4, 0, 5, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newStack(tt.count, 10)
			killed := u.Damage(tt.amount)
			assert.Equal(t, tt.wantKilled, killed)
			assert.Equal(t, tt.wantCount, u.Count)
			assert.Equal(t, tt.wantFirst, u.FirstHPLeft)
			assert.GreaterOrEqual(t, u.TotalHealth(), int64(0))
		})
	}
}

func TestUnit_DamageDeadUnit(t *testing.T) {
	u := newStack(0, 10)
	u.FirstHPLeft = 0
	assert.Equal(t, int32(0), u.Damage(10))
	assert.False(t, u.Alive())
}

func TestUnit_DamageConsumesResurrectedFirst(t *testing.T) {
	u := newStack(5, 10)
	u.Resurrected = 3
	u.Damage(20)
	assert.Equal(t, int32(1), u.Resurrected)
	u.Damage(30)
	assert.Equal(t, int32(0), u.Resurrected)
}

func TestUnit_HealLevels(t *testing.T) {
	t.Run("heal restores top creature only", func(t *testing.T) {
		u := newStack(5, 10)
		u.Damage(25)
		healed, revived := u.Heal(100, HealLevelHeal, HealPowerPermanent)
		assert.Equal(t, int64(5), healed)
		assert.Equal(t, int32(0), revived)
		assert.Equal(t, int32(3), u.Count)
		assert.Equal(t, int64(10), u.FirstHPLeft)
	})

	t.Run("heal level ignores dead units", func(t *testing.T) {
		u := newStack(5, 10)
		u.Damage(50)
		healed, _ := u.Heal(100, HealLevelHeal, HealPowerPermanent)
		assert.Equal(t, int64(0), healed)
		assert.False(t, u.Alive())
	})

	t.Run("resurrect stops at initial count", func(t *testing.T) {
		u := newStack(5, 10)
		u.Damage(50)
		healed, revived := u.Heal(1000, HealLevelResurrect, HealPowerOneBattle)
		assert.Equal(t, int64(50), healed)
		assert.Equal(t, int32(5), revived)
		assert.Equal(t, int32(5), u.Count)
		assert.Equal(t, int32(5), u.Resurrected)
	})

	t.Run("permanent resurrection is not tracked", func(t *testing.T) {
		u := newStack(5, 10)
		u.Damage(30)
		_, revived := u.Heal(30, HealLevelResurrect, HealPowerPermanent)
		assert.Equal(t, int32(3), revived)
		assert.Equal(t, int32(0), u.Resurrected)
	})

	t.Run("overheal exceeds initial count", func(t *testing.T) {
		u := newStack(5, 10)
		healed, revived := u.Heal(25, HealLevelOverheal, HealPowerPermanent)
		assert.Equal(t, int64(25), healed)
		assert.Equal(t, int32(3), revived)
		assert.Equal(t, int32(8), u.Count)
		assert.Equal(t, int64(5), u.FirstHPLeft)
	})
}

func TestUnit_HealNeverExceedsMaxHealth(t *testing.T) {
	for _, level := range []HealLevel{HealLevelHeal, HealLevelResurrect, HealLevelOverheal} {
		u := newStack(3, 7)
		u.Damage(9)
		u.Heal(1_000_000, level, HealPowerOneBattle)
		assert.LessOrEqual(t, u.FirstHPLeft, u.MaxHealth)
		assert.LessOrEqual(t, u.TotalHealth(), u.AvailableHealth(level))
	}
}

func TestUnit_Injured(t *testing.T) {
	u := newStack(5, 10)
	assert.False(t, u.Injured(HealLevelHeal))
	assert.False(t, u.Injured(HealLevelResurrect))
	assert.True(t, u.Injured(HealLevelOverheal))

	u.Damage(10)
	assert.False(t, u.Injured(HealLevelHeal), "top creature is at full health")
	assert.True(t, u.Injured(HealLevelResurrect))
}

func TestUnit_StateApply(t *testing.T) {
	u := newStack(5, 10)
	u.Damage(13)
	u.Position = Hex{X: 3, Y: 4}

	mirror := newStack(5, 10)
	mirror.Apply(u.State())
	assert.Equal(t, u, mirror)
}

func TestUnit_ApplyClamps(t *testing.T) {
	u := newStack(5, 10)
	u.Apply(UnitState{ID: 1, Count: -2, FirstHPLeft: 40})
	assert.Equal(t, int32(0), u.Count)
	assert.Equal(t, int64(0), u.FirstHPLeft)

	u.Apply(UnitState{ID: 1, Count: 2, FirstHPLeft: 40})
	assert.Equal(t, int64(10), u.FirstHPLeft)
}

func TestUnit_DisplayName(t *testing.T) {
	u := newStack(1, 1)
	assert.Equal(t, "Pikeman", u.DisplayName(false))
	assert.Equal(t, "Pikemen", u.DisplayName(true))
	u.PluralName = ""
	assert.Equal(t, "Pikeman", u.DisplayName(true))
}

func TestSide_Text(t *testing.T) {
	var s Side
	assert.NoError(t, s.UnmarshalText([]byte("defender")))
	assert.Equal(t, SideDefender, s)
	b, _ := s.MarshalText()
	assert.Equal(t, "defender", string(b))
	assert.Error(t, s.UnmarshalText([]byte("neutral")))
}
