// Package battlelog holds the human-readable lines attached to delta packs.
// Lines travel as message keys plus arguments and are rendered by each
// observer in its own language.
package battlelog

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys.
const (
	KeySpellDamage  = "spell.damage"
	KeySpellHeal    = "spell.heal"
	KeySpellRaise   = "spell.raise"
	KeySpellMove    = "spell.teleport"
	KeyPerishOne    = "unit.perish.one"
	KeyPerishMany   = "unit.perish.many"
	KeyRebirth      = "unit.rebirth"
	KeyCreature     = "unit.creature"
	KeyCreatures    = "unit.creatures"
	KeyActionFailed = "action.failed"
)

// ArgKind tells how an argument is rendered.
type ArgKind string

const (
	ArgNumber ArgKind = "num"
	ArgText   ArgKind = "text"
	// ArgRef is rendered as another message key.
	ArgRef ArgKind = "ref"
)

// Arg is one replacement in a Line.
type Arg struct {
	Kind ArgKind `json:"k"`
	Num  int64   `json:"n,omitempty"`
	Text string  `json:"t,omitempty"`
}

// Number returns a numeric argument
func Number(n int64) Arg { return Arg{Kind: ArgNumber, Num: n} }

// Text returns a literal argument, usually a unit or spell name
func Text(s string) Arg { return Arg{Kind: ArgText, Text: s} }

// Ref returns an argument rendered from another key
func Ref(key string) Arg { return Arg{Kind: ArgRef, Text: key} }

// Line is one log line.
type Line struct {
	Key  string `json:"key"`
	Args []Arg  `json:"args,omitempty"`
}

// New builds a line
func New(key string, args ...Arg) Line {
	return Line{Key: key, Args: args}
}

// Render formats l for tag. Unknown keys render as the key itself
// followed by the arguments.
func Render(tag language.Tag, l Line) string {
	return render(message.NewPrinter(tag), l)
}

// RenderAll renders lines joined by newlines.
func RenderAll(tag language.Tag, lines []Line) string {
	p := message.NewPrinter(tag)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, render(p, l))
	}
	return strings.Join(out, "\n")
}

func render(p *message.Printer, l Line) string {
	args := make([]any, 0, len(l.Args))
	for _, a := range l.Args {
		switch a.Kind {
		case ArgNumber:
			args = append(args, a.Num)
		case ArgRef:
			args = append(args, p.Sprintf(a.Text))
		default:
			args = append(args, a.Text)
		}
	}
	return p.Sprintf(l.Key, args...)
}
