package rules

import (
	"fmt"
	"math"

	"backsim/internal/domain"
	"backsim/internal/price"
)

// ---------------------------------------------------------------------------
// ndays: time stop
// ---------------------------------------------------------------------------

// exitNDays signals an unconditional exit once the position has been held
// for nd trading days, counted on the instrument's own calendar.
type exitNDays struct {
	nd      int
	at      domain.Timing
	prevent bool
}

var _ ExitRule = (*exitNDays)(nil)

func newExitNDays(p Params) (ExitRule, error) {
	nd, err := p.IntOr("nd", 10)
	if err != nil {
		return nil, err
	}
	if nd < 1 {
		return nil, fmt.Errorf("%w: nd = %d, want >= 1", ErrBadParam, nd)
	}
	at, err := p.StrOr("at", "c")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	prevent, err := p.Bool("prevent", false)
	if err != nil {
		return nil, err
	}
	return &exitNDays{nd: nd, at: timing, prevent: prevent}, nil
}

func (r *exitNDays) Tag() string           { return "ndays" }
func (r *exitNDays) CanPreventEntry() bool { return r.prevent }

func (r *exitNDays) Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	entry, ok := q.Index(pos.EntryDate)
	if !ok || i-entry < r.nd {
		return domain.ExitSignal{}, false
	}
	sig, err := domain.NewExitSignal(pos, r.Tag(), r.at, 0)
	if err != nil {
		return domain.ExitSignal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// stoppct: fixed stop below entry
// ---------------------------------------------------------------------------

// exitStopPct signals a stop exit at pct below the entry price (above it for
// short positions). A position without an entry price yet, as used during
// stop lookup before the entry fills, yields no stop level.
type exitStopPct struct {
	pct     float64
	prevent bool
}

var _ ExitRule = (*exitStopPct)(nil)

func newExitStopPct(p Params) (ExitRule, error) {
	pct, err := p.FloatOr("pct", 10)
	if err != nil {
		return nil, err
	}
	if pct <= 0 || pct >= 100 {
		return nil, fmt.Errorf("%w: pct = %v, want in (0, 100)", ErrBadParam, pct)
	}
	prevent, err := p.Bool("prevent", false)
	if err != nil {
		return nil, err
	}
	return &exitStopPct{pct: pct, prevent: prevent}, nil
}

func (r *exitStopPct) Tag() string           { return "stoppct" }
func (r *exitStopPct) CanPreventEntry() bool { return r.prevent }

func (r *exitStopPct) Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	if pos.EntryPrice == 0 {
		return domain.ExitSignal{}, false
	}
	offset := pos.EntryPrice * r.pct / 100
	stop := pos.EntryPrice - offset
	if pos.Method.Direction == domain.Short {
		stop = pos.EntryPrice + offset
	}
	sig, err := domain.NewExitSignal(pos, r.Tag(), domain.AtStop, stop)
	if err != nil {
		return domain.ExitSignal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// trail: trailing stop
// ---------------------------------------------------------------------------

// exitTrail signals a stop exit at pct below the highest close since entry
// (above the lowest close for short positions). Unlike exitStopPct this
// yields a stop level for a probe position too: the extreme of a same-day
// probe is today's close.
type exitTrail struct {
	pct     float64
	prevent bool
}

var _ ExitRule = (*exitTrail)(nil)

func newExitTrail(p Params) (ExitRule, error) {
	pct, err := p.FloatOr("pct", 10)
	if err != nil {
		return nil, err
	}
	if pct <= 0 || pct >= 100 {
		return nil, fmt.Errorf("%w: pct = %v, want in (0, 100)", ErrBadParam, pct)
	}
	prevent, err := p.Bool("prevent", false)
	if err != nil {
		return nil, err
	}
	return &exitTrail{pct: pct, prevent: prevent}, nil
}

func (r *exitTrail) Tag() string           { return "trail" }
func (r *exitTrail) CanPreventEntry() bool { return r.prevent }

func (r *exitTrail) Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	entry, ok := q.Index(pos.EntryDate)
	if !ok || entry > i {
		return domain.ExitSignal{}, false
	}
	var stop float64
	if pos.Method.Direction == domain.Short {
		low := q.LowestClose(entry, i)
		stop = low * (1 + r.pct/100)
	} else {
		high := q.HighestClose(entry, i)
		stop = high * (1 - r.pct/100)
	}
	sig, err := domain.NewExitSignal(pos, r.Tag(), domain.AtStop, stop)
	if err != nil {
		return domain.ExitSignal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// ma: moving average crossover exit
// ---------------------------------------------------------------------------

// exitMA signals an unconditional exit when today's close is below (or
// above, per op) the nd day simple moving average. This is the inverse of
// the ma entry rule; it defaults to preventing same-day entries.
type exitMA struct {
	nd      int
	op      string
	at      domain.Timing
	prevent bool
}

var _ ExitRule = (*exitMA)(nil)

func newExitMA(p Params) (ExitRule, error) {
	nd, err := p.IntOr("nd", 20)
	if err != nil {
		return nil, err
	}
	if nd < 1 {
		return nil, fmt.Errorf("%w: nd = %d, want >= 1", ErrBadParam, nd)
	}
	op, err := p.StrOr("op", "lt")
	if err != nil {
		return nil, err
	}
	if op != "gt" && op != "lt" {
		return nil, fmt.Errorf("%w: op = %q, want gt or lt", ErrBadParam, op)
	}
	at, err := p.StrOr("at", "c")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	prevent, err := p.Bool("prevent", true)
	if err != nil {
		return nil, err
	}
	return &exitMA{nd: nd, op: op, at: timing, prevent: prevent}, nil
}

func (r *exitMA) Tag() string           { return "ma" }
func (r *exitMA) CanPreventEntry() bool { return r.prevent }

func (r *exitMA) Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	sma := q.SMA(r.nd)[i]
	if math.IsNaN(sma) || !compare(r.op, q.CloseAt(i), sma) {
		return domain.ExitSignal{}, false
	}
	sig, err := domain.NewExitSignal(pos, r.Tag(), r.at, 0)
	if err != nil {
		return domain.ExitSignal{}, false
	}
	return sig, true
}
