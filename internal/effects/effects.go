// Package effects implements the resolution rules spells are built from.
//
// Every effect has two apply paths. ApplyNetworked is the authoritative
// path: it computes outcomes against the live battle, turns them into
// delta packs and hands them to a Sender. ApplySimulated computes the same
// numbers against a private mirror and writes them back directly, without
// building packs. Both paths share the per-unit arithmetic so a prediction
// only differs from the real outcome by the random component.
package effects

import (
	"errors"
	"fmt"
	"sort"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/rng"
	"github.com/warband/battlecore/pkg/core"
)

// ErrUnknownEffect is returned by Create for unregistered keys.
var ErrUnknownEffect = errors.New("unknown effect")

// Sender delivers packs produced by the authoritative path. The sender
// applies each pack to the authoritative battle before broadcasting it,
// in the order received.
type Sender interface {
	SendAndApply(p packs.Pack)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(p packs.Pack)

func (f SenderFunc) SendAndApply(p packs.Pack) { f(p) }

// Effect is one resolution rule.
type Effect interface {
	Key() string
	Level() int
	IsValidTarget(m *mechanics.Context, u core.Unit) bool
	ApplyNetworked(sender Sender, r rng.Source, m *mechanics.Context, target core.Target)
	ApplySimulated(state battle.State, m *mechanics.Context, target core.Target)
	SerializeConfig(h Handler) error
}

// Factory builds an effect at a level.
type Factory func(level int) Effect

var registry = map[string]Factory{}

// Register adds a factory under key. It is called from init functions and
// must not be used once the process is running.
func Register(key string, f Factory) {
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("effects: %s registered twice", key))
	}
	registry[key] = f
}

// Create builds the effect registered under key.
func Create(key string, level int) (Effect, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, key)
	}
	return f(level), nil
}

// Keys lists the registered effect keys in order.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// unitEffect holds what every unit-targeting effect shares.
type unitEffect struct {
	level int
}

func (e *unitEffect) Level() int { return e.level }

// unitLookup is the read side shared by both paths.
type unitLookup func(id core.UnitID) (core.Unit, bool)

// eachTarget yields every distinct unit of target that exists and passes
// keep. Later duplicates of a unit are dropped so both paths see each unit
// exactly once.
func eachTarget(lookup unitLookup, target core.Target, keep func(core.Unit) bool, fn func(core.Unit)) {
	seen := make(map[core.UnitID]struct{}, len(target))
	for _, dst := range target {
		if _, dup := seen[dst.Unit]; dup {
			continue
		}
		seen[dst.Unit] = struct{}{}
		u, ok := lookup(dst.Unit)
		if !ok || !keep(u) {
			continue
		}
		fn(u)
	}
}

func alive(u core.Unit) bool { return u.Alive() }
