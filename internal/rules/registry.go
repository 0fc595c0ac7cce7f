package rules

import (
	"fmt"
	"sort"
)

// Registry maps rule tags to their builders, one map per rule family.
// Lookup of an unknown tag is a configuration error. Registration is
// explicit; there is no reflection.
type Registry struct {
	entries     map[string]func(Params) (EntryRule, error)
	exits       map[string]func(Params) (ExitRule, error)
	ranks       map[string]func(Params) (RankRule, error)
	allocations map[string]func(Params) (AllocationRule, error)
	guards      map[string]func(Params) (EquityRule, error)
	markets     map[string]func(Params) (MarketTypeRule, error)
}

func NewRegistry() *Registry {
	return &Registry{
		entries:     make(map[string]func(Params) (EntryRule, error)),
		exits:       make(map[string]func(Params) (ExitRule, error)),
		ranks:       make(map[string]func(Params) (RankRule, error)),
		allocations: make(map[string]func(Params) (AllocationRule, error)),
		guards:      make(map[string]func(Params) (EquityRule, error)),
		markets:     make(map[string]func(Params) (MarketTypeRule, error)),
	}
}

func (r *Registry) RegisterEntry(tag string, build func(Params) (EntryRule, error)) {
	r.entries[tag] = build
}

func (r *Registry) RegisterExit(tag string, build func(Params) (ExitRule, error)) {
	r.exits[tag] = build
}

func (r *Registry) RegisterRank(tag string, build func(Params) (RankRule, error)) {
	r.ranks[tag] = build
}

func (r *Registry) RegisterAllocation(tag string, build func(Params) (AllocationRule, error)) {
	r.allocations[tag] = build
}

func (r *Registry) RegisterEquity(tag string, build func(Params) (EquityRule, error)) {
	r.guards[tag] = build
}

func (r *Registry) RegisterMarket(tag string, build func(Params) (MarketTypeRule, error)) {
	r.markets[tag] = build
}

func (r *Registry) Entry(tag string, p Params) (EntryRule, error) {
	build, ok := r.entries[tag]
	if !ok {
		return nil, fmt.Errorf("%w: entry rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

func (r *Registry) Exit(tag string, p Params) (ExitRule, error) {
	build, ok := r.exits[tag]
	if !ok {
		return nil, fmt.Errorf("%w: exit rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

func (r *Registry) Rank(tag string, p Params) (RankRule, error) {
	build, ok := r.ranks[tag]
	if !ok {
		return nil, fmt.Errorf("%w: rank rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

func (r *Registry) Allocation(tag string, p Params) (AllocationRule, error) {
	build, ok := r.allocations[tag]
	if !ok {
		return nil, fmt.Errorf("%w: allocation rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

func (r *Registry) Equity(tag string, p Params) (EquityRule, error) {
	build, ok := r.guards[tag]
	if !ok {
		return nil, fmt.Errorf("%w: equity rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

func (r *Registry) Market(tag string, p Params) (MarketTypeRule, error) {
	build, ok := r.markets[tag]
	if !ok {
		return nil, fmt.Errorf("%w: market rule %q", ErrUnknownRule, tag)
	}
	return build(p)
}

// Tags returns the sorted tags of one rule family, for error messages and
// the CLI listing.
func (r *Registry) Tags(family string) []string {
	var tags []string
	switch family {
	case "entry":
		for t := range r.entries {
			tags = append(tags, t)
		}
	case "exit":
		for t := range r.exits {
			tags = append(tags, t)
		}
	case "rank":
		for t := range r.ranks {
			tags = append(tags, t)
		}
	case "allocation":
		for t := range r.allocations {
			tags = append(tags, t)
		}
	case "equity":
		for t := range r.guards {
			tags = append(tags, t)
		}
	case "market":
		for t := range r.markets {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags
}

// Builtin returns a registry with all built-in rules registered.
func Builtin() *Registry {
	r := NewRegistry()

	r.RegisterEntry("day", newEntryDay)
	r.RegisterEntry("ndd", newEntryDaysDown)
	r.RegisterEntry("week", newEntryWeek)
	r.RegisterEntry("month", newEntryMonth)
	r.RegisterEntry("ma", newEntryMA)
	r.RegisterEntry("breakout", newEntryBreakout)

	r.RegisterExit("ndays", newExitNDays)
	r.RegisterExit("stoppct", newExitStopPct)
	r.RegisterExit("trail", newExitTrail)
	r.RegisterExit("ma", newExitMA)

	r.RegisterRank("alpha", newRankAlpha)
	r.RegisterRank("roc", newRankROC)
	r.RegisterRank("quality", newRankQuality)
	r.RegisterRank("qualityn", newRankQualityN)

	r.RegisterAllocation("shares", newAllocShares)
	r.RegisterAllocation("value", newAllocValue)
	r.RegisterAllocation("pct", newAllocPct)
	r.RegisterAllocation("risk", newAllocRisk)
	r.RegisterAllocation("risklim", newAllocRiskLimits)

	r.RegisterEquity("cash", newGuardCash)
	r.RegisterEquity("maxpos", newGuardMaxPositions)
	r.RegisterEquity("stoprisk", newGuardStopRisk)
	r.RegisterEquity("eqrisk", newGuardEquityRisk)

	r.RegisterMarket("all", newMarketAll)
	r.RegisterMarket("trend", newMarketTrend)

	return r
}
