package rules

import (
	"fmt"
	"math"

	"backsim/internal/domain"
)

// ---------------------------------------------------------------------------
// shares: fixed share count
// ---------------------------------------------------------------------------

type allocShares struct {
	ns int
}

var _ AllocationRule = (*allocShares)(nil)

func newAllocShares(p Params) (AllocationRule, error) {
	ns, err := p.IntOr("ns", 1)
	if err != nil {
		return nil, err
	}
	if ns < 1 {
		return nil, fmt.Errorf("%w: ns = %d, want >= 1", ErrBadParam, ns)
	}
	return &allocShares{ns: ns}, nil
}

func (r *allocShares) Tag() string { return "shares" }

func (r *allocShares) Volume(*Sizing) (int, error) { return r.ns, nil }

// ---------------------------------------------------------------------------
// value: fixed currency value
// ---------------------------------------------------------------------------

type allocValue struct {
	val float64
}

var _ AllocationRule = (*allocValue)(nil)

func newAllocValue(p Params) (AllocationRule, error) {
	val, err := p.FloatOr("val", 10000)
	if err != nil {
		return nil, err
	}
	if val <= 0 {
		return nil, fmt.Errorf("%w: val = %v, want > 0", ErrBadParam, val)
	}
	return &allocValue{val: val}, nil
}

func (r *allocValue) Tag() string { return "value" }

func (r *allocValue) Volume(s *Sizing) (int, error) {
	return int(math.Floor(r.val / s.Close())), nil
}

// ---------------------------------------------------------------------------
// pct: fixed percentage of total equity
// ---------------------------------------------------------------------------

type allocPct struct {
	pc float64
}

var _ AllocationRule = (*allocPct)(nil)

func newAllocPct(p Params) (AllocationRule, error) {
	pc, err := p.FloatOr("pc", 20)
	if err != nil {
		return nil, err
	}
	if pc <= 0 || pc > 100 {
		return nil, fmt.Errorf("%w: pc = %v, want in (0, 100]", ErrBadParam, pc)
	}
	return &allocPct{pc: pc}, nil
}

func (r *allocPct) Tag() string { return "pct" }

func (r *allocPct) Volume(s *Sizing) (int, error) {
	value := 0.01 * r.pc * s.TotalEquity
	return int(math.Floor(value / s.Close())), nil
}

// ---------------------------------------------------------------------------
// risk: size by distance to the stop
// ---------------------------------------------------------------------------

// allocRisk sizes the entry so a fill followed by a stop-out loses pc
// percent of total equity. The stop distance is floored at 2% so a tight
// stop does not explode the position. Long methods only.
type allocRisk struct {
	pc float64
}

var _ AllocationRule = (*allocRisk)(nil)

func newAllocRisk(p Params) (AllocationRule, error) {
	pc, err := p.FloatOr("pc", 0.5)
	if err != nil {
		return nil, err
	}
	if pc <= 0 {
		return nil, fmt.Errorf("%w: pc = %v, want > 0", ErrBadParam, pc)
	}
	return &allocRisk{pc: pc}, nil
}

func (r *allocRisk) Tag() string { return "risk" }

func (r *allocRisk) Volume(s *Sizing) (int, error) {
	if s.Method.Direction != domain.Long {
		return 0, fmt.Errorf("%w: allocation rule %s is long only", ErrUnsupportedDirection, r.Tag())
	}
	price := s.Price()
	stop, err := s.Stop()
	if err != nil {
		return 0, err
	}
	sl := 100 * (1 - stop/price)
	if sl < 2 {
		sl = 2
	}
	value := r.pc * s.TotalEquity / sl
	return int(math.Floor(value / price)), nil
}

// ---------------------------------------------------------------------------
// risklim: risk sizing with allocation limits
// ---------------------------------------------------------------------------

// allocRiskLimits sizes like allocRisk, but caps the allocation at pch
// percent of equity and rejects the entry entirely when it would fall below
// pcl percent, which happens when the stop is far away.
type allocRiskLimits struct {
	pc  float64
	pch float64
	pcl float64
}

var _ AllocationRule = (*allocRiskLimits)(nil)

func newAllocRiskLimits(p Params) (AllocationRule, error) {
	pc, err := p.FloatOr("pc", 0.5)
	if err != nil {
		return nil, err
	}
	pch, err := p.FloatOr("pch", 33)
	if err != nil {
		return nil, err
	}
	pcl, err := p.FloatOr("pcl", 7)
	if err != nil {
		return nil, err
	}
	if pc <= 0 || pch <= 0 || pcl < 0 {
		return nil, fmt.Errorf("%w: pc = %v, pch = %v, pcl = %v", ErrBadParam, pc, pch, pcl)
	}
	return &allocRiskLimits{pc: pc, pch: pch, pcl: pcl}, nil
}

func (r *allocRiskLimits) Tag() string { return "risklim" }

func (r *allocRiskLimits) Volume(s *Sizing) (int, error) {
	if s.Method.Direction != domain.Long {
		return 0, fmt.Errorf("%w: allocation rule %s is long only", ErrUnsupportedDirection, r.Tag())
	}
	price := s.Price()
	stop, err := s.Stop()
	if err != nil {
		return 0, err
	}
	sl := 100 * (1 - stop/price)
	if sl < 0.1 {
		sl = 0.1
	}
	fraction := math.Min(r.pc/sl, 0.01*r.pch)
	if fraction <= 0.01*r.pcl {
		return 0, nil
	}
	return int(math.Floor(fraction * s.TotalEquity / price)), nil
}
