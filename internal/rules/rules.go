// Package rules evaluates the owner-supplied magnitude rules of a spell:
// the effect value formula and the per-target damage adjustment.
package rules

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/warband/battlecore/pkg/core"
)

// Adjuster turns the raw effect value into the damage a target takes.
type Adjuster interface {
	AdjustRawDamage(caster *core.Unit, target core.Unit, raw int64) int64
}

// Identity applies no adjustment.
type Identity struct{}

func (Identity) AdjustRawDamage(_ *core.Unit, _ core.Unit, raw int64) int64 {
	if raw < 0 {
		return 0
	}
	return raw
}

// Engine owns the CEL environment shared by every compiled rule.
type Engine struct {
	env *cel.Env
}

// NewEngine declares the variables a rule may reference:
// raw, base, level (ints) and caster, target (unit maps).
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("raw", cel.IntType),
		cel.Variable("base", cel.IntType),
		cel.Variable("level", cel.IntType),
		cel.Variable("caster", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("target", cel.MapType(cel.StringType, cel.AnyType)),

		cel.Function("clamp",
			cel.Overload("clamp_int_int_int",
				[]*cel.Type{cel.IntType, cel.IntType, cel.IntType},
				cel.IntType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					v, lo, hi := args[0].(types.Int), args[1].(types.Int), args[2].(types.Int)
					if v < lo {
						return lo
					}
					if v > hi {
						return hi
					}
					return v
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Engine{env: env}, nil
}

// Expression is a compiled rule
type Expression struct {
	source string
	prog   cel.Program
}

// Compile parses and type-checks src.
func (e *Engine) Compile(src string) (*Expression, error) {
	ast, iss := e.env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile rule %q: %w", src, iss.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program rule %q: %w", src, err)
	}
	return &Expression{source: src, prog: prog}, nil
}

// String returns the rule source
func (x *Expression) String() string {
	return x.source
}

// Eval runs the rule. Unset variables default to zero values.
func (x *Expression) Eval(vars map[string]any) (int64, error) {
	in := map[string]any{
		"raw":    int64(0),
		"base":   int64(0),
		"level":  int64(0),
		"caster": map[string]any{},
		"target": map[string]any{},
	}
	for k, v := range vars {
		in[k] = v
	}
	out, _, err := x.prog.Eval(in)
	if err != nil {
		return 0, fmt.Errorf("eval rule %q: %w", x.source, err)
	}
	switch v := out.Value().(type) {
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(v), nil
	case float64:
		return int64(math.Round(v)), nil
	default:
		return 0, fmt.Errorf("eval rule %q: unexpected result type %T", x.source, v)
	}
}

// AdjustRawDamage evaluates the rule with raw, caster and target bound.
// A failing rule falls back to the raw value. Results are never negative.
func (x *Expression) AdjustRawDamage(caster *core.Unit, target core.Unit, raw int64) int64 {
	v, err := x.Eval(map[string]any{
		"raw":    raw,
		"caster": UnitVars(caster),
		"target": UnitVars(&target),
	})
	if err != nil {
		v = raw
	}
	if v < 0 {
		return 0
	}
	return v
}

// UnitVars exposes the rule-visible fields of a unit. A nil unit maps to
// an empty map so rules can test `has(caster.spellPower)`.
func UnitVars(u *core.Unit) map[string]any {
	if u == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":          int64(u.ID),
		"side":        int64(u.Side),
		"count":       int64(u.Count),
		"maxHealth":   u.MaxHealth,
		"health":      u.TotalHealth(),
		"defense":     u.Defense,
		"resistance":  u.Resistance,
		"spellPower":  u.SpellPower,
		"alive":       u.Alive(),
		"resurrected": int64(u.Resurrected),
	}
}
