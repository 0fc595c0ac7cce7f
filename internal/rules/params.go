// Package rules contains the pluggable rule families of a trading method:
// entry and exit signal generation, candidate ranking, position sizing,
// equity guards and market-type method selection. Rules are immutable after
// construction and safe to share across simulation runs.
package rules

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Sentinel errors. All of these mark configuration mistakes: the run is
// aborted and partial state discarded by the caller.
var (
	ErrUnknownRule          = errors.New("unknown rule")
	ErrBadParam             = errors.New("bad rule parameter")
	ErrNoStopRule           = errors.New("no stop loss rule defined for method")
	ErrUnsupportedDirection = errors.New("unsupported trade direction")
)

// Params are the resolved parameters a rule is built from: plain values
// only, any sweep modes already collapsed to a concrete number.
type Params map[string]any

func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrBadParam, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %q = %v is not a number", ErrBadParam, key, v)
}

func (p Params) FloatOr(key string, def float64) (float64, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Float(key)
}

func (p Params) Int(key string) (int, error) {
	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %q = %v is not an integer", ErrBadParam, key, f)
	}
	return int(f), nil
}

func (p Params) IntOr(key string, def int) (int, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Int(key)
}

func (p Params) Str(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrBadParam, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q = %v is not a string", ErrBadParam, key, v)
	}
	return s, nil
}

func (p Params) StrOr(key, def string) (string, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Str(key)
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("%w: %q = %v is not a bool", ErrBadParam, key, v)
}

// Op is a comparison direction used by threshold rules.
func (p Params) Op(key string) (string, error) {
	op, err := p.StrOr(key, "gt")
	if err != nil {
		return "", err
	}
	if op != "gt" && op != "lt" {
		return "", fmt.Errorf("%w: %q = %q, want gt or lt", ErrBadParam, key, op)
	}
	return op, nil
}

func compare(op string, a, b float64) bool {
	if op == "lt" {
		return a < b
	}
	return a > b
}

// ---------------------------------------------------------------------------
// Parameter modes
// ---------------------------------------------------------------------------

// ModeKind says how a swept parameter produces its value.
type ModeKind int

const (
	Fixed     ModeKind = iota // a constant
	Random                    // drawn uniformly from [Lo, Hi] per run
	Enumerate                 // one run per listed value
	Variable                  // a constant that is reported as a variable
)

// Mode is a parameter value in a sweep definition. The kind is decided once
// at config parse time and never re-sniffed.
type Mode struct {
	Kind   ModeKind
	Value  float64   // Fixed, Variable
	Lo, Hi float64   // Random
	Values []float64 // Enumerate
}

// UnmarshalYAML accepts the sweep parameter forms:
//
//	key: 21              a fixed value
//	key: [21, 63, 126]   enumerate
//	key: {random: [1, 5]}
//	key: {var: 21}
func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrBadParam, node.Value)
		}
		*m = Mode{Kind: Fixed, Value: v}
		return nil
	case yaml.SequenceNode:
		var values []float64
		if err := node.Decode(&values); err != nil {
			return fmt.Errorf("%w: enumerate list: %v", ErrBadParam, err)
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: empty enumerate list", ErrBadParam)
		}
		*m = Mode{Kind: Enumerate, Values: values}
		return nil
	case yaml.MappingNode:
		var tagged struct {
			Random []float64 `yaml:"random"`
			Var    *float64  `yaml:"var"`
		}
		if err := node.Decode(&tagged); err != nil {
			return fmt.Errorf("%w: %v", ErrBadParam, err)
		}
		switch {
		case len(tagged.Random) == 2:
			*m = Mode{Kind: Random, Lo: tagged.Random[0], Hi: tagged.Random[1]}
			return nil
		case tagged.Var != nil:
			*m = Mode{Kind: Variable, Value: *tagged.Var}
			return nil
		}
		return fmt.Errorf("%w: mode mapping needs random: [lo, hi] or var: v", ErrBadParam)
	}
	return fmt.Errorf("%w: unsupported parameter node", ErrBadParam)
}

// Span returns the number of runs this mode multiplies a sweep by.
func (m Mode) Span() int {
	if m.Kind == Enumerate {
		return len(m.Values)
	}
	return 1
}

// At resolves the mode to a concrete value. i indexes Enumerate values;
// draw supplies the uniform sample for Random modes.
func (m Mode) At(i int, draw func(lo, hi float64) float64) float64 {
	switch m.Kind {
	case Enumerate:
		return m.Values[i]
	case Random:
		return draw(m.Lo, m.Hi)
	default:
		return m.Value
	}
}
