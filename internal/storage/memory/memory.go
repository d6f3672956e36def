// Package memory keeps the battle journal in memory and exports it as a
// JSON file when the battle ends.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/warband/battlecore/internal/config"
	"github.com/warband/battlecore/pkg/core"
)

// ErrNoBattle is returned when recording before StartBattle.
var ErrNoBattle = errors.New("no battle started")

// Backend stores the journal in memory and exports to JSON
type Backend struct {
	cfg    config.MemoryConfig
	battle *core.BattleInfo
	end    time.Time

	packs   []core.PackRecord
	actions []core.ActionRecord

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartBattle begins a new journal. The snapshot is copied.
func (b *Backend) StartBattle(info *core.BattleInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *info
	cp.Units = append([]core.Unit(nil), info.Units...)
	if cp.StartTime.IsZero() {
		cp.StartTime = time.Now()
	}
	b.battle = &cp
	b.end = time.Time{}
	b.packs = nil
	b.actions = nil
	b.lastExportPath = ""
	return nil
}

// EndBattle finalizes and exports the journal
func (b *Backend) EndBattle() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.battle == nil {
		return ErrNoBattle
	}
	b.end = time.Now()
	return b.exportJSON()
}

// RecordPack appends a sent pack
func (b *Backend) RecordPack(p *core.PackRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.battle == nil {
		return ErrNoBattle
	}
	rec := *p
	rec.Payload = append([]byte(nil), p.Payload...)
	b.packs = append(b.packs, rec)
	return nil
}

// RecordAction appends an action summary
func (b *Backend) RecordAction(a *core.ActionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.battle == nil {
		return ErrNoBattle
	}
	b.actions = append(b.actions, *a)
	return nil
}

// Packs returns a copy of the recorded packs
func (b *Backend) Packs() []core.PackRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.PackRecord(nil), b.packs...)
}

// Actions returns a copy of the recorded actions
func (b *Backend) Actions() []core.ActionRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.ActionRecord(nil), b.actions...)
}

// GetExportedFilePath returns the path of the last export
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
