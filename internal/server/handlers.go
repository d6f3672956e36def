package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warband/battlecore/internal/dispatcher"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

func (h *Hub) registerHandlers(castBuffer int) {
	h.dispatcher.Register(streaming.TypeHello, h.handleHello)
	h.dispatcher.Register(streaming.TypeCastSpell, h.handleCastSpell,
		dispatcher.Buffered(castBuffer), dispatcher.Blocking(), dispatcher.Logged())
}

func (h *Hub) handleHello(e dispatcher.Event) (any, error) {
	s, ok := h.session(e.Session)
	if !ok {
		return nil, nil
	}
	var msg streaming.HelloMessage
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	s.hello(msg)
	s.logger.Info("Observer identified", "name", msg.Name, "side", msg.Side)
	return nil, nil
}

// handleCastSpell runs on the single cast_spell worker, so actions are
// resolved one at a time in arrival order.
func (h *Hub) handleCastSpell(e dispatcher.Event) (any, error) {
	s, ok := h.session(e.Session)
	if !ok {
		return nil, nil
	}
	var req streaming.CastSpellRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		s.logger.Warn("Malformed cast request", "error", err)
		return nil, fmt.Errorf("decode cast_spell: %w", err)
	}

	if reason := h.authorize(s, req); reason != "" {
		h.sendTo(s.id, &packs.PackageApplied{RequestID: req.RequestID, Reason: reason})
		return nil, nil
	}

	record, err := h.resolver.Resolve(req)
	if err != nil {
		h.sendTo(s.id, &packs.PackageApplied{RequestID: req.RequestID, Reason: err.Error()})
		return nil, err
	}

	if h.journal != nil {
		if err := h.journal.RecordAction(&record); err != nil {
			h.logger.Error("Failed to journal action", "request", req.RequestID, "error", err)
		}
	}
	if h.metrics != nil {
		if err := h.metrics.RecordAction(context.Background(), record); err != nil {
			h.logger.Warn("Failed to record action metrics", "error", err)
		}
	}

	h.sendTo(s.id, &packs.PackageApplied{RequestID: req.RequestID, Result: true})
	return record, nil
}

// authorize returns why s may not issue req, or "" when it may.
func (h *Hub) authorize(s *session, req streaming.CastSpellRequest) string {
	side, _ := s.controls()
	if side == nil {
		return "spectators cannot act"
	}
	if req.Caster == core.NoUnit {
		return ""
	}
	u, ok := h.battle.LookupUnit(req.Caster)
	if ok && u.Side != *side {
		return fmt.Sprintf("unit %d is not controlled by %s", req.Caster, *side)
	}
	return ""
}
