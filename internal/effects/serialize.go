package effects

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidConfig is returned when an effect parameter cannot be read.
var ErrInvalidConfig = errors.New("invalid effect config")

// Handler reads or writes effect parameters. One effect implementation
// serves both directions by passing pointers to its fields.
type Handler interface {
	Saving() bool
	Int(key string, v *int, def int) error
	Enum(key string, v *int, def int, names []string) error
}

// Loader reads parameters from a decoded document node.
type Loader struct {
	node map[string]any
}

// NewLoader wraps a decoded YAML/JSON mapping.
func NewLoader(node map[string]any) *Loader {
	if node == nil {
		node = map[string]any{}
	}
	return &Loader{node: node}
}

func (l *Loader) Saving() bool { return false }

func (l *Loader) Int(key string, v *int, def int) error {
	raw, ok := l.node[key]
	if !ok || raw == nil {
		*v = def
		return nil
	}
	switch n := raw.(type) {
	case int:
		*v = n
	case int64:
		*v = int(n)
	case uint64:
		*v = int(n)
	case float64:
		if n != float64(int(n)) {
			return fmt.Errorf("%w: %s: %v is not an integer", ErrInvalidConfig, key, n)
		}
		*v = int(n)
	default:
		return fmt.Errorf("%w: %s: expected integer, got %T", ErrInvalidConfig, key, raw)
	}
	return nil
}

func (l *Loader) Enum(key string, v *int, def int, names []string) error {
	raw, ok := l.node[key]
	if !ok || raw == nil {
		*v = def
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%w: %s: expected one of %v, got %T", ErrInvalidConfig, key, names, raw)
	}
	idx := slices.Index(names, s)
	if idx < 0 {
		return fmt.Errorf("%w: %s: %q is not one of %v", ErrInvalidConfig, key, s, names)
	}
	*v = idx
	return nil
}

// Saver collects parameters into a mapping.
type Saver struct {
	Out map[string]any
}

// NewSaver returns an empty Saver
func NewSaver() *Saver {
	return &Saver{Out: map[string]any{}}
}

func (s *Saver) Saving() bool { return true }

func (s *Saver) Int(key string, v *int, def int) error {
	if *v != def {
		s.Out[key] = *v
	}
	return nil
}

func (s *Saver) Enum(key string, v *int, def int, names []string) error {
	if *v < 0 || *v >= len(names) {
		return fmt.Errorf("%w: %s: value %d out of range", ErrInvalidConfig, key, *v)
	}
	if *v != def {
		s.Out[key] = names[*v]
	}
	return nil
}
