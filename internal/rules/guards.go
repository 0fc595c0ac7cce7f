package rules

import (
	"fmt"
	"math"
)

// Exceed says what happens when an entry would exceed the guarded budget.
type Exceed string

const (
	ExceedScale   Exceed = "scale"  // scale the volume down to fit
	ExceedMargin  Exceed = "margin" // take the full volume on margin
	ExceedSkip    Exceed = "skip"   // reject the entry
	ExceedTakeAll Exceed = "all"    // ignore the budget entirely
)

func parseExceed(p Params) (Exceed, error) {
	s, err := p.StrOr("xc", string(ExceedMargin))
	if err != nil {
		return "", err
	}
	xc := Exceed(s)
	switch xc {
	case ExceedScale, ExceedMargin, ExceedSkip, ExceedTakeAll:
		return xc, nil
	}
	return "", fmt.Errorf("%w: xc = %q, want scale, margin, skip or all", ErrBadParam, s)
}

// ---------------------------------------------------------------------------
// cash: available cash budget
// ---------------------------------------------------------------------------

// guardCash limits entries to the available cash: current cash plus the cash
// that pending unconditional exits will free, minus the cost of entries
// already sized today. The xc action applies when an entry does not fit; pce
// is the minimum fraction of the required cash that must be available, below
// it the entry is rejected regardless of xc.
//
// The other guards embed guardCash: their own budget check runs first and
// the result cascades into the cash check.
type guardCash struct {
	xc  Exceed
	pce float64
}

var _ EquityRule = (*guardCash)(nil)

func newGuardCash(p Params) (EquityRule, error) {
	xc, err := parseExceed(p)
	if err != nil {
		return nil, err
	}
	pce, err := p.FloatOr("pce", 50)
	if err != nil {
		return nil, err
	}
	if pce < 0 || pce > 100 {
		return nil, fmt.Errorf("%w: pce = %v, want in [0, 100]", ErrBadParam, pce)
	}
	return &guardCash{xc: xc, pce: pce}, nil
}

func (r *guardCash) Tag() string { return "cash" }

func (r *guardCash) AdjustVolume(g *GuardContext, volume int) (int, error) {
	available := g.AvailableCash()
	cost := float64(volume) * g.Price
	switch {
	case cost < available || r.xc == ExceedTakeAll:
		return volume, nil
	case available < 0.01*r.pce*cost || r.xc == ExceedSkip:
		return 0, nil
	case r.xc == ExceedMargin:
		return volume, nil
	default: // ExceedScale
		return int(math.Floor(available / g.Price)), nil
	}
}

// ---------------------------------------------------------------------------
// maxpos: position count ceiling
// ---------------------------------------------------------------------------

// guardMaxPositions rejects entries once the portfolio would hold np
// positions, counting open positions, executable pending entries and
// pending unconditional exits. Entries that pass cascade into the cash
// guard.
type guardMaxPositions struct {
	guardCash
	np int
}

var _ EquityRule = (*guardMaxPositions)(nil)

func newGuardMaxPositions(p Params) (EquityRule, error) {
	base, err := newGuardCash(p)
	if err != nil {
		return nil, err
	}
	np, err := p.IntOr("np", 5)
	if err != nil {
		return nil, err
	}
	if np < 1 {
		return nil, fmt.Errorf("%w: np = %d, want >= 1", ErrBadParam, np)
	}
	return &guardMaxPositions{guardCash: *base.(*guardCash), np: np}, nil
}

func (r *guardMaxPositions) Tag() string { return "maxpos" }

func (r *guardMaxPositions) AdjustVolume(g *GuardContext, volume int) (int, error) {
	held := g.OpenPositions + g.PendingExecutableEntries + g.PendingUnconditionalExits
	if held >= r.np {
		return 0, nil
	}
	return r.guardCash.AdjustVolume(g, volume)
}

// ---------------------------------------------------------------------------
// stoprisk: total stop loss risk ceiling
// ---------------------------------------------------------------------------

// guardStopRisk limits the total stop loss risk, the loss if every position
// sells at a stop below its entry, to pcr percent of equity. Risk already
// committed by open positions and by entries sized earlier today counts
// against the budget. The result cascades into the cash guard.
type guardStopRisk struct {
	guardCash
	pcr float64
}

var _ EquityRule = (*guardStopRisk)(nil)

func newGuardStopRisk(p Params) (EquityRule, error) {
	base, err := newGuardCash(p)
	if err != nil {
		return nil, err
	}
	pcr, err := p.FloatOr("pcr", 1)
	if err != nil {
		return nil, err
	}
	if pcr <= 0 {
		return nil, fmt.Errorf("%w: pcr = %v, want > 0", ErrBadParam, pcr)
	}
	return &guardStopRisk{guardCash: *base.(*guardCash), pcr: pcr}, nil
}

func (r *guardStopRisk) Tag() string { return "stoprisk" }

func (r *guardStopRisk) AdjustVolume(g *GuardContext, volume int) (int, error) {
	availableRisk := 0.01*r.pcr*g.TotalEquity - g.OpenStopRisk - g.PendingStopRisk
	entryRisk, err := g.StopLossRisk(volume)
	if err != nil {
		return 0, err
	}
	switch {
	case entryRisk < availableRisk || r.xc == ExceedTakeAll:
		// keep volume
	case availableRisk < 0.01*r.pce*entryRisk || r.xc == ExceedSkip:
		return 0, nil
	case r.xc == ExceedMargin:
		// keep volume
	default: // ExceedScale
		volume = int(float64(volume) * availableRisk / entryRisk)
	}
	return r.guardCash.AdjustVolume(g, volume)
}

// ---------------------------------------------------------------------------
// eqrisk: total equity risk ceiling
// ---------------------------------------------------------------------------

// guardEquityRisk limits the total equity risk, the drop of equity if every
// position sells at its stop, to pcr percent of equity. Unlike stop loss
// risk, per-position equity risk may be negative when the stop sits above
// the close. The result cascades into the cash guard.
type guardEquityRisk struct {
	guardCash
	pcr float64
}

var _ EquityRule = (*guardEquityRisk)(nil)

func newGuardEquityRisk(p Params) (EquityRule, error) {
	base, err := newGuardCash(p)
	if err != nil {
		return nil, err
	}
	pcr, err := p.FloatOr("pcr", 1)
	if err != nil {
		return nil, err
	}
	if pcr <= 0 {
		return nil, fmt.Errorf("%w: pcr = %v, want > 0", ErrBadParam, pcr)
	}
	return &guardEquityRisk{guardCash: *base.(*guardCash), pcr: pcr}, nil
}

func (r *guardEquityRisk) Tag() string { return "eqrisk" }

func (r *guardEquityRisk) AdjustVolume(g *GuardContext, volume int) (int, error) {
	availableRisk := 0.01*r.pcr*g.TotalEquity - g.OpenEquityRisk - g.PendingEquityRisk
	entryRisk, err := g.EquityRisk(volume)
	if err != nil {
		return 0, err
	}
	switch {
	case entryRisk < availableRisk || r.xc == ExceedTakeAll:
		// keep volume
	case availableRisk < 0.01*r.pce*entryRisk || r.xc == ExceedSkip:
		return 0, nil
	case r.xc == ExceedMargin:
		// keep volume
	default: // ExceedScale
		volume = int(float64(volume) * availableRisk / entryRisk)
	}
	return r.guardCash.AdjustVolume(g, volume)
}
