// Package gormstorage writes the battle journal through GORM. Records are
// queued and a background writer drains the queues in batches.
package gormstorage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/warband/battlecore/internal/queue"
	"github.com/warband/battlecore/pkg/core"
)

// DefaultWriteInterval is how often queued records are written
const DefaultWriteInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	WriteInterval time.Duration
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	logger  *slog.Logger
	packs   *queue.Queue[Pack]
	actions *queue.Queue[Action]

	battleRef atomic.Uint64
	// serializes drains between the writer goroutine and Flush
	writeMu             sync.Mutex
	lastDBWriteDuration atomic.Int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.WriteInterval <= 0 {
		deps.WriteInterval = DefaultWriteInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		deps:    deps,
		logger:  logger.With("component", "journal"),
		packs:   queue.New[Pack](),
		actions: queue.New[Action](),
	}
}

// DB returns the underlying connection, nil in queue-only mode
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the journal tables and starts the writer goroutine.
// Without a DB the backend only queues.
func (b *Backend) Init() error {
	b.stopChan = make(chan struct{})
	if b.deps.DB == nil {
		return nil
	}
	if err := b.deps.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	b.startDBWriter()
	return nil
}

// Close stops the writer goroutine and writes what is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	select {
	case <-b.stopChan:
		return nil
	default:
	}
	close(b.stopChan)
	b.wg.Wait()
	return b.Flush()
}

// StartBattle inserts the battle row; later records reference it.
func (b *Backend) StartBattle(info *core.BattleInfo) error {
	if b.deps.DB == nil {
		return nil
	}
	snapshot, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	start := info.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	row := Battle{
		BattleID:  info.ID,
		Seed:      info.Seed,
		StartTime: start,
		Snapshot:  datatypes.JSON(snapshot),
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert battle: %w", err)
	}
	b.battleRef.Store(uint64(row.ID))
	b.logger.Info("Journal started", "battle", info.ID, "ref", row.ID)
	return nil
}

// EndBattle writes the queues and stamps the end time.
func (b *Backend) EndBattle() error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	ref := uint(b.battleRef.Load())
	if ref == 0 {
		return nil
	}
	now := time.Now()
	if err := b.deps.DB.Model(&Battle{}).Where("id = ?", ref).Update("end_time", now).Error; err != nil {
		return fmt.Errorf("failed to close battle: %w", err)
	}
	return nil
}

// BattleRef returns the row id of the current battle, 0 before StartBattle
func (b *Backend) BattleRef() uint { return uint(b.battleRef.Load()) }

// RecordPack converts and queues a pack.
func (b *Backend) RecordPack(p *core.PackRecord) error {
	b.packs.Push(Pack{
		Time:    p.Time,
		Seq:     p.Seq,
		Type:    p.Type,
		Payload: datatypes.JSON(append([]byte(nil), p.Payload...)),
	})
	return nil
}

// RecordAction converts and queues an action summary.
func (b *Backend) RecordAction(a *core.ActionRecord) error {
	b.actions.Push(Action{
		Time:       a.Time,
		RequestID:  a.RequestID,
		Spell:      a.Spell,
		Caster:     int32(a.Caster),
		Targets:    a.Targets,
		Damage:     a.Damage,
		Healed:     a.Healed,
		Killed:     a.Killed,
		Revived:    a.Revived,
		DurationMs: float32(a.Duration.Seconds() * 1000),
	})
	return nil
}

// QueueLengths reports pending writes per table
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"packs":   b.packs.Len(),
		"actions": b.actions.Len(),
	}
}

// GetLastDBWriteDuration returns how long the last drain took
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastDBWriteDuration.Load())
}

// writeQueue writes all items from a queue to the database in a
// transaction. Failed batches go back on the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, logger *slog.Logger, prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	if prepare != nil {
		prepare(items)
	}
	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		logger.Error("Error writing journal", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return tx.Commit().Error
}

// Flush drains every queue now.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	start := time.Now()
	ref := uint(b.battleRef.Load())

	stampPacks := func(items []Pack) {
		for i := range items {
			items[i].BattleRef = ref
		}
	}
	stampActions := func(items []Action) {
		for i := range items {
			items[i].BattleRef = ref
		}
	}

	perr := writeQueue(b.deps.DB, b.packs, "packs", b.logger, stampPacks)
	aerr := writeQueue(b.deps.DB, b.actions, "actions", b.logger, stampActions)
	b.lastDBWriteDuration.Store(int64(time.Since(start)))
	if perr != nil {
		return perr
	}
	return aerr
}

// startDBWriter starts the goroutine that periodically drains queues.
func (b *Backend) startDBWriter() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.deps.WriteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopChan:
				return
			case <-ticker.C:
				_ = b.Flush()
			}
		}
	}()
}
