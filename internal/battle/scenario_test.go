package battle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warband/battlecore/pkg/core"
)

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: skirmish
seed: 1234
units:
  - id: 1
    name: Pikeman
    pluralName: Pikemen
    side: attacker
    maxHealth: 10
    count: 20
    position: {x: 1, y: 5}
  - id: 2
    name: Phoenix
    side: defender
    maxHealth: 200
    count: 2
    rebirth: 20
    resistance: 30
`), 0o644))

	info, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "skirmish", info.ID)
	assert.Equal(t, int64(1234), info.Seed)
	require.Len(t, info.Units, 2)
	assert.Equal(t, core.SideDefender, info.Units[1].Side)
	assert.Equal(t, int64(10), info.Units[0].FirstHPLeft)
	assert.Equal(t, int32(20), info.Units[0].InitialCount)
	assert.Equal(t, core.Hex{X: 1, Y: 5}, info.Units[0].Position)
	assert.Equal(t, int32(20), info.Units[1].Rebirth)
}

func TestParseScenario_Errors(t *testing.T) {
	_, err := ParseScenario([]byte("units:\n  - {id: 1, maxHealth: 5}\n  - {id: 1, maxHealth: 5}\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseScenario([]byte("units:\n  - {id: 1, count: 5}\n"))
	assert.ErrorContains(t, err, "no health")

	_, err = ParseScenario([]byte("units: ["))
	assert.Error(t, err)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}
