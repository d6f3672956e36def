// Package storage defines the battle journal: every delta pack the
// simulator sent, plus a summary of every resolved action.
package storage

import "github.com/warband/battlecore/pkg/core"

// Journal is the write side the simulator uses while a battle runs
type Journal interface {
	RecordPack(p *core.PackRecord) error
	RecordAction(a *core.ActionRecord) error
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	Journal

	// Lifecycle
	Init() error
	Close() error

	// Battle management
	StartBattle(info *core.BattleInfo) error
	EndBattle() error
}

// Uploadable is an optional interface for backends that produce a file
// at the end of a battle.
type Uploadable interface {
	GetExportedFilePath() string
}

// QueueReporter is an optional interface for backends that buffer writes.
type QueueReporter interface {
	QueueLengths() map[string]int
}
