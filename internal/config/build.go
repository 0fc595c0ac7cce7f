package config

import (
	"fmt"
	"sort"
	"strings"

	"backsim/internal/domain"
	"backsim/internal/rules"
	"backsim/internal/sim"
)

// Variants returns the number of distinct parameter combinations the
// definition enumerates: the product of all Enumerate list lengths. Random
// and fixed modes do not multiply.
func (s *SystemDef) Variants() int {
	n := 1
	for _, ref := range s.modeRefs() {
		n *= ref.mode.Span()
	}
	return n
}

// Build resolves the definition to a runnable system. variant selects one
// combination of the enumerated parameters; draw supplies uniform samples
// for random modes. The returned map holds every resolved parameter under a
// dotted path, for reporting and persistence.
func (s *SystemDef) Build(reg *rules.Registry, variant int, draw func(lo, hi float64) float64) (*sim.System, map[string]float64, error) {
	if variant < 0 || variant >= s.Variants() {
		return nil, nil, fmt.Errorf("variant %d out of range [0, %d)", variant, s.Variants())
	}
	r := &resolver{variant: variant, draw: draw, resolved: make(map[string]float64)}

	sys := &sim.System{Name: s.Name, StartCash: s.StartCash}

	alloc, err := buildRule(r, "allocation", s.Allocation, reg.Allocation)
	if err != nil {
		return nil, nil, err
	}
	sys.Allocation = alloc

	for i, def := range s.Equity {
		guard, err := buildRule(r, fmt.Sprintf("equity[%d]", i), def, reg.Equity)
		if err != nil {
			return nil, nil, err
		}
		sys.Guards = append(sys.Guards, guard)
	}

	market, err := buildRule(r, "market", s.Market, reg.Market)
	if err != nil {
		return nil, nil, err
	}
	sys.Market = market

	for mi, md := range s.Methods {
		m, err := buildMethod(r, reg, mi, md)
		if err != nil {
			return nil, nil, err
		}
		sys.Methods = append(sys.Methods, m)
	}

	return sys, r.resolved, nil
}

func buildMethod(r *resolver, reg *rules.Registry, mi int, md MethodDef) (*rules.Method, error) {
	dir, err := parseDirection(md.Direction)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", md.Name, err)
	}
	mask, err := parseMarketTypes(md.MarketType)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", md.Name, err)
	}
	m := &rules.Method{
		Method:      domain.Method{Name: md.Name, Direction: dir},
		MarketTypes: mask,
	}
	prefix := fmt.Sprintf("methods[%d]", mi)
	if md.Rank != nil {
		rank, err := buildRule(r, prefix+".rank", *md.Rank, reg.Rank)
		if err != nil {
			return nil, err
		}
		m.Rank = rank
	}
	for i, def := range md.Entries {
		entry, err := buildRule(r, fmt.Sprintf("%s.entries[%d]", prefix, i), def, reg.Entry)
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, entry)
	}
	for i, def := range md.Exits {
		exit, err := buildRule(r, fmt.Sprintf("%s.exits[%d]", prefix, i), def, reg.Exit)
		if err != nil {
			return nil, err
		}
		m.Exits = append(m.Exits, exit)
	}
	return m, nil
}

func parseDirection(s string) (domain.Direction, error) {
	switch strings.ToLower(s) {
	case "", "long":
		return domain.Long, nil
	case "short":
		return domain.Short, nil
	}
	return 0, fmt.Errorf("direction %q: want long or short", s)
}

func parseMarketTypes(names []string) (rules.MarketType, error) {
	var mask rules.MarketType
	for _, name := range names {
		switch strings.ToLower(name) {
		case "any":
			// explicit Any contributes nothing to the mask
		case "up":
			mask |= rules.Up
		case "flat":
			mask |= rules.Flat
		case "down":
			mask |= rules.Down
		default:
			return 0, fmt.Errorf("market type %q: want any, up, flat or down", name)
		}
	}
	return mask, nil
}

// ---------------------------------------------------------------------------
// Parameter resolution
// ---------------------------------------------------------------------------

// resolver walks the rule definitions in declaration order, consuming one
// mixed-radix digit of the variant index per enumerated parameter.
type resolver struct {
	variant  int
	draw     func(lo, hi float64) float64
	resolved map[string]float64
}

func (r *resolver) value(path string, m rules.Mode) float64 {
	idx := 0
	if span := m.Span(); span > 1 {
		idx = r.variant % span
		r.variant /= span
	}
	v := m.At(idx, r.draw)
	r.resolved[path] = v
	return v
}

// buildRule resolves one rule definition's parameters and constructs the
// rule through the registry's family lookup.
func buildRule[R any](r *resolver, path string, def RuleDef, lookup func(string, rules.Params) (R, error)) (R, error) {
	params := make(rules.Params, len(def.Params)+len(def.Strs))
	for _, key := range sortedKeys(def.Params) {
		params[key] = r.value(path+"."+def.Rule+"."+key, def.Params[key])
	}
	for key, val := range def.Strs {
		params[key] = val
	}
	rule, err := lookup(def.Rule, params)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return rule, nil
}

func sortedKeys(m map[string]rules.Mode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// modeRefs lists every parameter mode in the same deterministic order that
// Build resolves them.
func (s *SystemDef) modeRefs() []modeRef {
	var refs []modeRef
	add := func(path string, def RuleDef) {
		for _, key := range sortedKeys(def.Params) {
			refs = append(refs, modeRef{path: path + "." + def.Rule + "." + key, mode: def.Params[key]})
		}
	}
	add("allocation", s.Allocation)
	for i, def := range s.Equity {
		add(fmt.Sprintf("equity[%d]", i), def)
	}
	add("market", s.Market)
	for mi, md := range s.Methods {
		prefix := fmt.Sprintf("methods[%d]", mi)
		if md.Rank != nil {
			add(prefix+".rank", *md.Rank)
		}
		for i, def := range md.Entries {
			add(fmt.Sprintf("%s.entries[%d]", prefix, i), def)
		}
		for i, def := range md.Exits {
			add(fmt.Sprintf("%s.exits[%d]", prefix, i), def)
		}
	}
	return refs
}

type modeRef struct {
	path string
	mode rules.Mode
}
