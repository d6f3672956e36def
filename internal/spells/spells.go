// Package spells loads the ability catalog: which effects a spell is built
// from, their parameters per level, and the spell's magnitude rules.
package spells

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/effects"
	"github.com/warband/battlecore/internal/mechanics"
	"github.com/warband/battlecore/internal/rules"
	"github.com/warband/battlecore/pkg/core"
)

// ErrInvalidAbility marks an ability that could not be configured.
var ErrInvalidAbility = errors.New("invalid ability")

// abilityDoc is one entry of the catalog file.
type abilityDoc struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Power   []int64          `yaml:"power"`
	Value   string           `yaml:"value"`
	Adjust  string           `yaml:"adjust"`
	Effects []map[string]any `yaml:"effects"`
}

type catalogDoc struct {
	Spells []abilityDoc `yaml:"spells"`
}

// Spell is a configured ability
type Spell struct {
	ID    string
	Name  string
	Power []int64

	value  *rules.Expression
	adjust rules.Adjuster
	// effects per level
	effects [][]effects.Effect
}

// Levels returns the number of configured levels.
func (s *Spell) Levels() int { return len(s.effects) }

func (s *Spell) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= len(s.effects) {
		return len(s.effects) - 1
	}
	return level
}

// Effects returns the effect instances of a level. Levels past the last
// configured one use the last.
func (s *Spell) Effects(level int) []effects.Effect {
	return s.effects[s.clampLevel(level)]
}

// EffectConfig is an effect key with the parameters that differ from
// their defaults.
type EffectConfig struct {
	Key    string
	Params map[string]any
}

// Describe writes out the effects of a level.
func (s *Spell) Describe(level int) ([]EffectConfig, error) {
	list := s.Effects(level)
	out := make([]EffectConfig, 0, len(list))
	for _, e := range list {
		saver := effects.NewSaver()
		if err := e.SerializeConfig(saver); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key(), err)
		}
		out = append(out, EffectConfig{Key: e.Key(), Params: saver.Out})
	}
	return out, nil
}

// Magnitude returns the effect value rule of the spell.
func (s *Spell) Magnitude() mechanics.Magnitude {
	return func(caster *core.Unit, level int) int64 {
		var base int64
		if len(s.Power) > 0 {
			lvl := level
			if lvl < 0 {
				lvl = 0
			}
			if lvl >= len(s.Power) {
				lvl = len(s.Power) - 1
			}
			base = s.Power[lvl]
		}
		if s.value == nil {
			return base
		}
		v, err := s.value.Eval(map[string]any{
			"base":   base,
			"level":  int64(level),
			"caster": rules.UnitVars(caster),
		})
		if err != nil {
			return base
		}
		return v
	}
}

// Context builds the mechanics for one cast against b.
func (s *Spell) Context(b battle.Reader, level int, caster *core.Unit) *mechanics.Context {
	opts := []mechanics.Option{
		mechanics.WithMagnitude(s.Magnitude()),
		mechanics.WithOwner(s.adjust),
	}
	if caster != nil {
		opts = append(opts, mechanics.WithCaster(*caster))
	}
	return mechanics.New(b, mechanics.Spell{ID: s.ID, Name: s.Name}, level, opts...)
}

// Catalog is the read-only set of loaded spells.
type Catalog struct {
	spells map[string]*Spell
}

// Get returns a spell by id
func (c *Catalog) Get(id string) (*Spell, bool) {
	s, ok := c.spells[id]
	return s, ok
}

// IDs returns the sorted spell ids
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.spells))
	for id := range c.spells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded spells
func (c *Catalog) Len() int { return len(c.spells) }

// LoadError lists the abilities that failed to load. The catalog returned
// alongside it still holds every ability that loaded.
type LoadError struct {
	Abilities []string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%d abilities failed to load: %v", len(e.Abilities), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadFile reads a catalog from path.
func LoadFile(path string, engine *rules.Engine) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spells file: %w", err)
	}
	return Parse(data, engine)
}

// Parse decodes a catalog. A broken ability is reported in a *LoadError
// and left out; it never aborts the others.
func Parse(data []byte, engine *rules.Engine) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode spells: %w", err)
	}

	c := &Catalog{spells: make(map[string]*Spell, len(doc.Spells))}
	var (
		failed []string
		errs   []error
	)
	for i, ad := range doc.Spells {
		s, err := build(ad, engine)
		if err == nil && c.spells[ad.ID] != nil {
			err = errors.New("duplicate id")
		}
		if err != nil {
			id := ad.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("%w %s: %w", ErrInvalidAbility, id, err))
			continue
		}
		c.spells[s.ID] = s
	}

	if len(errs) > 0 {
		return c, &LoadError{Abilities: failed, Err: errors.Join(errs...)}
	}
	return c, nil
}

func build(ad abilityDoc, engine *rules.Engine) (*Spell, error) {
	if ad.ID == "" {
		return nil, errors.New("missing id")
	}
	if len(ad.Effects) == 0 {
		return nil, errors.New("no effects")
	}
	s := &Spell{ID: ad.ID, Name: ad.Name, Power: ad.Power, adjust: rules.Identity{}}
	if s.Name == "" {
		s.Name = ad.ID
	}

	if ad.Value != "" || ad.Adjust != "" {
		if engine == nil {
			return nil, errors.New("rules given but no rule engine")
		}
	}
	if ad.Value != "" {
		x, err := engine.Compile(ad.Value)
		if err != nil {
			return nil, err
		}
		s.value = x
	}
	if ad.Adjust != "" {
		x, err := engine.Compile(ad.Adjust)
		if err != nil {
			return nil, err
		}
		s.adjust = x
	}

	levels := len(ad.Power)
	if levels == 0 {
		levels = 1
	}
	s.effects = make([][]effects.Effect, levels)
	for level := 0; level < levels; level++ {
		for _, node := range ad.Effects {
			key, _ := node["type"].(string)
			e, err := effects.Create(key, level)
			if err != nil {
				return nil, fmt.Errorf("%w, registered: %s", err, strings.Join(effects.Keys(), ", "))
			}
			if err := e.SerializeConfig(effects.NewLoader(node)); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			s.effects[level] = append(s.effects[level], e)
		}
	}
	return s, nil
}
