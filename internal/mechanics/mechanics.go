// Package mechanics binds everything one resolved action needs: who casts,
// which spell at which level, how large the effect is, and the battle it
// reads from. A Context is built once per action and never mutated.
package mechanics

import (
	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/rules"
	"github.com/warband/battlecore/pkg/core"
)

// Magnitude computes the raw effect value for a caster at a level.
type Magnitude func(caster *core.Unit, level int) int64

// Constant is a Magnitude ignoring caster and level.
func Constant(v int64) Magnitude {
	return func(*core.Unit, int) int64 { return v }
}

// Spell identifies the ability being resolved.
type Spell struct {
	ID   string
	Name string
}

// Context is the immutable per-action binding.
type Context struct {
	caster    *core.Unit
	spell     Spell
	level     int
	magnitude Magnitude
	owner     rules.Adjuster
	battle    battle.Reader
}

// Option configures a Context at construction.
type Option func(*Context)

// WithCaster binds a caster. The unit is copied.
func WithCaster(u core.Unit) Option {
	return func(c *Context) {
		c.caster = &u
	}
}

// WithMagnitude sets the effect value rule.
func WithMagnitude(m Magnitude) Option {
	return func(c *Context) {
		if m != nil {
			c.magnitude = m
		}
	}
}

// WithOwner sets the damage adjustment rule.
func WithOwner(a rules.Adjuster) Option {
	return func(c *Context) {
		if a != nil {
			c.owner = a
		}
	}
}

// New creates a Context for one action against b.
func New(b battle.Reader, spell Spell, level int, opts ...Option) *Context {
	c := &Context{
		spell:     spell,
		level:     level,
		magnitude: Constant(0),
		owner:     rules.Identity{},
		battle:    b,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rebind returns a copy reading from another battle, used when the same
// action is predicted against a private mirror.
func (c *Context) Rebind(b battle.Reader) *Context {
	cp := *c
	cp.battle = b
	return &cp
}

// Caster returns a copy of the caster, or false when the action has none.
func (c *Context) Caster() (core.Unit, bool) {
	if c.caster == nil {
		return core.Unit{}, false
	}
	return *c.caster, true
}

// CasterID returns the caster id or core.NoUnit.
func (c *Context) CasterID() core.UnitID {
	if c.caster == nil {
		return core.NoUnit
	}
	return c.caster.ID
}

func (c *Context) Spell() Spell { return c.spell }

func (c *Context) Level() int { return c.level }

// EffectValue is the raw magnitude of the effect.
func (c *Context) EffectValue() int64 {
	var caster *core.Unit
	if c.caster != nil {
		cp := *c.caster
		caster = &cp
	}
	v := c.magnitude(caster, c.level)
	if v < 0 {
		return 0
	}
	return v
}

// AdjustRawDamage runs the owner's adjustment for one target.
func (c *Context) AdjustRawDamage(target core.Unit, raw int64) int64 {
	var caster *core.Unit
	if c.caster != nil {
		cp := *c.caster
		caster = &cp
	}
	return c.owner.AdjustRawDamage(caster, target, raw)
}

// Battle returns the battle the action reads from.
func (c *Context) Battle() battle.Reader { return c.battle }

// LookupUnit is a shortcut for Battle().LookupUnit.
func (c *Context) LookupUnit(id core.UnitID) (core.Unit, bool) {
	if c.battle == nil {
		return core.Unit{}, false
	}
	return c.battle.LookupUnit(id)
}
