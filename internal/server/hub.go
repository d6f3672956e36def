// Package server runs the authoritative side of a battle: it owns the
// battle, resolves observer requests and replicates every resulting pack,
// in order, to each connected observer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/dispatcher"
	"github.com/warband/battlecore/internal/effects"
	"github.com/warband/battlecore/internal/logging"
	"github.com/warband/battlecore/internal/monitor"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/resolver"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/internal/spells"
	"github.com/warband/battlecore/internal/storage"
	"github.com/warband/battlecore/pkg/core"
)

// ErrClosed is returned by Serve once the hub shuts down.
var ErrClosed = errors.New("hub closed")

// ActionMetrics receives one record per resolved action.
type ActionMetrics interface {
	RecordAction(ctx context.Context, a core.ActionRecord) error
}

// Options configure a hub.
type Options struct {
	Catalog *spells.Catalog
	// RNG drives rebirth rolls. Defaults to a source derived from the
	// battle seed.
	RNG rng.Source
	// Journal and Metrics are optional.
	Journal storage.Journal
	Metrics ActionMetrics
	// CastBuffer is the cast_spell queue size.
	CastBuffer int
	Logger     *slog.Logger
	// DispatchLogger defaults to a silent zerolog adapter.
	DispatchLogger dispatcher.Logger
}

// Hub is the packet sender of one authoritative battle.
type Hub struct {
	battle     *battle.Battle
	resolver   *resolver.Resolver
	dispatcher *dispatcher.Dispatcher
	journal    storage.Journal
	metrics    ActionMetrics
	logger     *slog.Logger

	// mu orders battle mutation, sequence numbers and session queues.
	mu       sync.Mutex
	seq      uint64
	sessions map[uint64]*session
	closed   bool

	nextSession atomic.Uint64
	wg          sync.WaitGroup
}

var _ effects.Sender = (*Hub)(nil)

// New creates a hub owning b.
func New(b *battle.Battle, opts Options) (*Hub, error) {
	if opts.Catalog == nil {
		return nil, errors.New("no spell catalog")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dl := opts.DispatchLogger
	if dl == nil {
		dl = logging.NewDispatcherLogger(zerolog.Nop())
	}
	r := opts.RNG
	if r == nil {
		r = rng.NewDerived(b.Seed(), "rebirth")
	}
	if opts.CastBuffer <= 0 {
		opts.CastBuffer = 64
	}

	d, err := dispatcher.New(dl)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	h := &Hub{
		battle:     b,
		dispatcher: d,
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "hub", "battle", b.ID()),
		sessions:   make(map[uint64]*session),
	}
	h.resolver = resolver.New(b, opts.Catalog, r, h, logger)
	h.registerHandlers(opts.CastBuffer)
	return h, nil
}

// Battle returns the authoritative battle.
func (h *Hub) Battle() *battle.Battle { return h.battle }

// LastSeq returns the sequence number of the last sent pack.
func (h *Hub) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Stats reports the hub for the status monitor.
func (h *Hub) Stats() monitor.HubStats {
	h.mu.Lock()
	observers := len(h.sessions)
	seq := h.seq
	h.mu.Unlock()

	return monitor.HubStats{
		BattleID:  h.battle.ID(),
		Observers: observers,
		LastSeq:   seq,
		Round:     h.battle.Round(),
		Alive: map[string]int{
			core.SideAttacker.String(): len(h.battle.Alive(core.SideAttacker)),
			core.SideDefender.String(): len(h.battle.Alive(core.SideDefender)),
		},
	}
}

// QueueLengths reports queued cast requests and the packs each observer
// has yet to be written.
func (h *Hub) QueueLengths() map[string]int {
	out := h.dispatcher.QueueLengths()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		out[fmt.Sprintf("session.%d", id)] = s.out.Len()
	}
	return out
}

// SendAndApply applies p to the authoritative battle, journals it and
// queues it for every observer under the next sequence number.
func (h *Hub) SendAndApply(p packs.Pack) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p.Apply(h.battle)
	h.seq++
	env, err := packs.Encode(p, h.seq)
	if err != nil {
		h.logger.Error("Failed to encode pack", "type", p.Type(), "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", "type", p.Type(), "error", err)
		return
	}

	if h.journal != nil {
		rec := &core.PackRecord{
			BattleID: h.battle.ID(),
			Seq:      h.seq,
			Type:     env.Type,
			Payload:  env.Payload,
			Time:     time.Now(),
		}
		if err := h.journal.RecordPack(rec); err != nil {
			h.logger.Error("Failed to journal pack", "seq", h.seq, "error", err)
		}
	}

	for _, s := range h.sessions {
		s.push(data)
	}
}

// sendTo queues p for one session only. The pack changes no state and is
// not journaled but still takes a sequence number.
func (h *Hub) sendTo(id uint64, p packs.Pack) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	h.seq++
	data, err := packs.Marshal(p, h.seq)
	if err != nil {
		h.logger.Error("Failed to marshal pack", "type", p.Type(), "error", err)
		return
	}
	s.push(data)
}

func (h *Hub) session(id uint64) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// join registers a session whose first queued pack is the battle snapshot
// at the current sequence number.
func (h *Hub) join(s *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	start := &packs.BattleStart{Info: h.battle.Snapshot()}
	start.Info.StartTime = time.Now()
	data, err := packs.Marshal(start, h.seq)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	s.push(data)
	h.sessions[s.id] = s
	h.wg.Add(1)
	return nil
}

func (h *Hub) leave(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	s.out.Close()
	h.wg.Done()
}

// Close stops accepting observers, finishes queued requests, lets every
// session flush what it was sent and disconnects it. ctx bounds the wait.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.dispatcher.Close()

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for _, s := range sessions {
	drain:
		for !s.drained() {
			select {
			case <-ctx.Done():
				break drain
			case <-ticker.C:
			}
		}
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("Hub closed", "lastSeq", h.LastSeq())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}
