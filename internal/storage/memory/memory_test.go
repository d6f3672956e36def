package memory

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warband/battlecore/internal/config"
	"github.com/warband/battlecore/pkg/core"
)

func testInfo() *core.BattleInfo {
	return &core.BattleInfo{
		ID:        "siege of ravenhold",
		Seed:      42,
		StartTime: time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC),
		Units: []core.Unit{
			{ID: 1, Name: "Orc", Count: 10, MaxHealth: 15, FirstHPLeft: 15, InitialCount: 10},
		},
	}
}

func record(b *Backend, t *testing.T) {
	t.Helper()
	require.NoError(t, b.RecordPack(&core.PackRecord{Seq: 1, Type: "stacks_injured", Payload: []byte(`{"stacks":[]}`), Time: time.Now()}))
	require.NoError(t, b.RecordPack(&core.PackRecord{Seq: 2, Type: "stack_moved", Payload: []byte(`{"unit":1}`), Time: time.Now()}))
	require.NoError(t, b.RecordAction(&core.ActionRecord{RequestID: 1, Spell: "lightningBolt", Damage: 48, Killed: 3, Duration: 1500 * time.Microsecond}))
	require.NoError(t, b.RecordAction(&core.ActionRecord{RequestID: 2, Spell: "cure", Healed: 20}))
}

func TestRecordBeforeStart(t *testing.T) {
	b := New(config.MemoryConfig{})
	assert.ErrorIs(t, b.RecordPack(&core.PackRecord{Seq: 1}), ErrNoBattle)
	assert.ErrorIs(t, b.RecordAction(&core.ActionRecord{}), ErrNoBattle)
	assert.ErrorIs(t, b.EndBattle(), ErrNoBattle)
}

func TestStartBattle_Resets(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartBattle(testInfo()))
	record(b, t)
	assert.Len(t, b.Packs(), 2)
	assert.Len(t, b.Actions(), 2)

	require.NoError(t, b.StartBattle(testInfo()))
	assert.Empty(t, b.Packs())
	assert.Empty(t, b.Actions())
}

func TestRecordPack_CopiesPayload(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartBattle(testInfo()))

	payload := []byte(`{"a":1}`)
	require.NoError(t, b.RecordPack(&core.PackRecord{Seq: 1, Payload: payload}))
	payload[2] = 'b'

	assert.Equal(t, `{"a":1}`, string(b.Packs()[0].Payload))
}

func TestEndBattle_Export(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "gzip"}[compress], func(t *testing.T) {
			dir := t.TempDir()
			b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: compress})
			require.NoError(t, b.StartBattle(testInfo()))
			record(b, t)
			require.NoError(t, b.EndBattle())

			path := b.GetExportedFilePath()
			want := "siege_of_ravenhold_20260301_183000.json"
			if compress {
				want += ".gz"
			}
			assert.Equal(t, filepath.Join(dir, want), path)

			export, err := ReadExport(path)
			require.NoError(t, err)
			assert.Equal(t, ExportVersion, export.Version)
			assert.Equal(t, "siege of ravenhold", export.BattleID)
			assert.Equal(t, int64(42), export.Seed)
			assert.Len(t, export.Snapshot.Units, 1)
			require.Len(t, export.Packs, 2)
			assert.Equal(t, uint64(1), export.Packs[0].Seq)
			assert.Equal(t, "stack_moved", export.Packs[1].Type)
			assert.JSONEq(t, `{"unit":1}`, string(export.Packs[1].Payload))
			require.Len(t, export.Actions, 2)
			assert.InDelta(t, 1.5, export.Actions[0].DurationMs, 0.001)
			assert.Equal(t, Totals{Actions: 2, Damage: 48, Healed: 20, Killed: 3}, export.Totals)
			assert.False(t, export.EndTime.IsZero())
		})
	}
}

func TestBuildExport_EmptyPayload(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartBattle(testInfo()))
	require.NoError(t, b.RecordPack(&core.PackRecord{Seq: 1, Type: "package_applied"}))

	export := b.buildExport()
	data, err := json.Marshal(export)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":null`)
}

func TestExportFileName(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "battle_20260102_030405.json", exportFileName("", start, false))
	assert.Equal(t, "a_b_c_20260102_030405.json.gz", exportFileName("a:b/c", start, true))
}

func TestReadExport_Missing(t *testing.T) {
	_, err := ReadExport(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
