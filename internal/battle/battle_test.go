package battle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warband/battlecore/pkg/core"
)

func testInfo() core.BattleInfo {
	return core.BattleInfo{
		ID:   "b1",
		Seed: 99,
		Units: []core.Unit{
			{ID: 2, Name: "Archer", Side: core.SideDefender, MaxHealth: 10, Count: 4, FirstHPLeft: 10, InitialCount: 4},
			{ID: 1, Name: "Pikeman", Side: core.SideAttacker, MaxHealth: 10, Count: 5, FirstHPLeft: 10, InitialCount: 5},
		},
	}
}

func TestBattle_LookupReturnsCopy(t *testing.T) {
	b := FromInfo(testInfo())

	u, ok := b.LookupUnit(1)
	require.True(t, ok)
	u.Count = 0

	again, _ := b.LookupUnit(1)
	assert.Equal(t, int32(5), again.Count)

	_, ok = b.LookupUnit(42)
	assert.False(t, ok)
}

func TestBattle_UpdateUnit(t *testing.T) {
	b := FromInfo(testInfo())
	b.UpdateUnit(core.UnitState{ID: 1, Count: 3, FirstHPLeft: 6})

	u, _ := b.LookupUnit(1)
	assert.Equal(t, int32(3), u.Count)
	assert.Equal(t, int64(6), u.FirstHPLeft)

	// unknown unit is a no-op
	b.UpdateUnit(core.UnitState{ID: 77, Count: 1, FirstHPLeft: 1})
	assert.Len(t, b.Units(), 2)
}

func TestBattle_UnitsSorted(t *testing.T) {
	b := FromInfo(testInfo())
	units := b.Units()
	require.Len(t, units, 2)
	assert.Equal(t, core.UnitID(1), units[0].ID)
	assert.Equal(t, core.UnitID(2), units[1].ID)
}

func TestBattle_CloneIsIndependent(t *testing.T) {
	b := FromInfo(testInfo())
	c := b.Clone()
	c.UpdateUnit(core.UnitState{ID: 1, Count: 0})

	orig, _ := b.LookupUnit(1)
	assert.True(t, orig.Alive())
	cloned, _ := c.LookupUnit(1)
	assert.False(t, cloned.Alive())
	assert.Equal(t, b.Seed(), c.Seed())
}

func TestBattle_Alive(t *testing.T) {
	b := FromInfo(testInfo())
	assert.Equal(t, []core.UnitID{1}, b.Alive(core.SideAttacker))
	b.UpdateUnit(core.UnitState{ID: 1})
	assert.Empty(t, b.Alive(core.SideAttacker))
}

func TestBattle_Reset(t *testing.T) {
	info := testInfo()
	info.Round = 3
	b := New("", 0)
	b.Reset(info)
	assert.Equal(t, "b1", b.ID())
	assert.Equal(t, info.Units[1], mustLookup(t, b, 1))
	assert.Equal(t, 3, b.Round())
	assert.Equal(t, 3, b.Snapshot().Round)
}

func TestBattle_ConcurrentAccess(t *testing.T) {
	b := FromInfo(testInfo())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.UpdateUnit(core.UnitState{ID: 1, Count: int32(i + 1), FirstHPLeft: 5})
		}(i)
		go func() {
			defer wg.Done()
			_ = b.Snapshot()
		}()
	}
	wg.Wait()
	u := mustLookup(t, b, 1)
	assert.Equal(t, int64(5), u.FirstHPLeft)
}

func mustLookup(t *testing.T, b *Battle, id core.UnitID) core.Unit {
	t.Helper()
	u, ok := b.LookupUnit(id)
	require.True(t, ok)
	return u
}
