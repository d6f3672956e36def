// Package resolver turns spell requests into effect applications: for
// real against the authoritative battle, or as a prediction against a
// private copy.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/effects"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/internal/spells"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

var (
	ErrUnknownSpell  = errors.New("unknown spell")
	ErrInvalidCaster = errors.New("invalid caster")
)

// Resolver is the authoritative resolver of one battle. It resolves one
// action at a time and is not safe for concurrent use.
type Resolver struct {
	battle  *battle.Battle
	catalog *spells.Catalog
	rng     rng.Source
	sender  effects.Sender
	logger  *slog.Logger
}

// New creates a resolver. sender must apply packs to b.
func New(b *battle.Battle, catalog *spells.Catalog, r rng.Source, sender effects.Sender, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{battle: b, catalog: catalog, rng: r, sender: sender, logger: logger}
}

// Battle returns the authoritative battle
func (r *Resolver) Battle() *battle.Battle { return r.battle }

// prepare validates a request and builds its mechanics.
func prepare(b battle.Reader, catalog *spells.Catalog, req streaming.CastSpellRequest) (*spells.Spell, *mechanics.Context, error) {
	spell, ok := catalog.Get(req.Spell)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSpell, req.Spell)
	}
	var caster *core.Unit
	if req.Caster != core.NoUnit {
		u, ok := b.LookupUnit(req.Caster)
		if !ok || !u.Alive() {
			return nil, nil, fmt.Errorf("%w: %d", ErrInvalidCaster, req.Caster)
		}
		caster = &u
	}
	return spell, spell.Context(b, req.Level, caster), nil
}

// filterTarget drops destinations whose unit the effect cannot affect.
// Hex-only destinations are kept.
func filterTarget(e effects.Effect, m *mechanics.Context, lookup func(core.UnitID) (core.Unit, bool), target core.Target) core.Target {
	out := make(core.Target, 0, len(target))
	for _, dst := range target {
		if dst.Unit == core.NoUnit {
			out = append(out, dst)
			continue
		}
		u, ok := lookup(dst.Unit)
		if !ok || !e.IsValidTarget(m, u) {
			continue
		}
		out = append(out, dst)
	}
	return out
}

// tally forwards packs and sums their outcome.
type tally struct {
	next   effects.Sender
	record *core.ActionRecord
}

func (t *tally) SendAndApply(p packs.Pack) {
	switch v := p.(type) {
	case *packs.StacksInjured:
		for _, s := range v.Stacks {
			t.record.Damage += s.Damage
			t.record.Killed += s.Killed
		}
	case *packs.StacksHealed:
		for _, s := range v.Stacks {
			t.record.Healed += s.Healed
			t.record.Revived += s.Revived
		}
	}
	t.next.SendAndApply(p)
}

// Resolve applies a spell to the authoritative battle through the sender.
// An invalid request changes nothing and sends nothing.
func (r *Resolver) Resolve(req streaming.CastSpellRequest) (core.ActionRecord, error) {
	start := time.Now()
	record := core.ActionRecord{
		BattleID:  r.battle.ID(),
		RequestID: req.RequestID,
		Spell:     req.Spell,
		Caster:    req.Caster,
		Targets:   len(req.Target),
		Time:      start,
	}

	spell, m, err := prepare(r.battle, r.catalog, req)
	if err != nil {
		return record, err
	}

	sender := &tally{next: r.sender, record: &record}
	for _, e := range spell.Effects(req.Level) {
		target := filterTarget(e, m, r.battle.LookupUnit, req.Target)
		e.ApplyNetworked(sender, r.rng, m, target)
	}
	record.Duration = time.Since(start)

	r.logger.Debug("Action resolved",
		"spell", req.Spell,
		"request", req.RequestID,
		"damage", record.Damage,
		"killed", record.Killed,
		"healed", record.Healed,
	)
	return record, nil
}

// Predict resolves req against a private copy of b with the simulated
// apply path and returns the copy. b is never modified.
func Predict(b *battle.Battle, catalog *spells.Catalog, req streaming.CastSpellRequest) (*battle.Battle, error) {
	mirror := b.Clone()
	spell, m, err := prepare(mirror, catalog, req)
	if err != nil {
		return nil, err
	}
	for _, e := range spell.Effects(req.Level) {
		target := filterTarget(e, m, mirror.LookupUnit, req.Target)
		e.ApplySimulated(mirror, m, target)
	}
	return mirror, nil
}

// Predict runs the package-level Predict against the authoritative battle.
func (r *Resolver) Predict(req streaming.CastSpellRequest) (*battle.Battle, error) {
	return Predict(r.battle, r.catalog, req)
}
