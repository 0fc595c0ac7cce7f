// Package domain defines the core value types of the simulation engine:
// bars, signals, positions and trades, plus the method descriptor that ties
// a signal to the sub-strategy that produced it.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Direction of a trading method. The numeric values are used directly in
// gain arithmetic: gain = 1 + direction*(exit/entry - 1).
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Timing specifies when a signal is to be executed: unconditionally at the
// open or close of the next trading day, or conditionally at a limit or
// stop threshold.
type Timing string

const (
	AtOpen  Timing = "o"
	AtClose Timing = "c"
	AtLimit Timing = "l"
	AtStop  Timing = "s"
)

// Conditional reports whether this timing requires a threshold price.
func (t Timing) Conditional() bool { return t == AtLimit || t == AtStop }

func (t Timing) valid() bool {
	switch t {
	case AtOpen, AtClose, AtLimit, AtStop:
		return true
	}
	return false
}

// Bar is one daily OHLCV bar for an instrument.
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Method identifies a named long/short sub-strategy. Rule wiring (entries,
// exits, ranking) lives outside the domain package; signals only carry this
// descriptor.
type Method struct {
	Name      string
	Direction Direction
}

// PosKey identifies the slot a position occupies in the book. At most one
// open position may exist per key.
type PosKey struct {
	Symbol string
	Method string
}

func (k PosKey) String() string { return k.Symbol + "/" + k.Method }

// ErrInvalidSignal is returned when a signal is constructed with an illegal
// timing/price combination.
var ErrInvalidSignal = errors.New("invalid signal")

// Signal is an order intent for the next trading day. It is immutable after
// construction: execution produces a Position or Trade instead of modifying
// the signal.
type Signal struct {
	Symbol string
	Method Method
	Rule   string // tag of the rule that generated the signal
	Timing Timing
	Price  float64 // threshold, only meaningful when Timing.Conditional()
}

// NewSignal validates the timing/price combination. A threshold price must
// be present for limit/stop signals and absent for open/close signals.
func NewSignal(symbol string, method Method, rule string, timing Timing, price float64) (Signal, error) {
	if !timing.valid() {
		return Signal{}, fmt.Errorf("%w: timing %q", ErrInvalidSignal, timing)
	}
	if timing.Conditional() && price == 0 {
		return Signal{}, fmt.Errorf("%w: no threshold price for conditional %s signal", ErrInvalidSignal, timing)
	}
	if !timing.Conditional() && price != 0 {
		return Signal{}, fmt.Errorf("%w: threshold price %.2f set for unconditional %s signal", ErrInvalidSignal, price, timing)
	}
	return Signal{Symbol: symbol, Method: method, Rule: rule, Timing: timing, Price: price}, nil
}

// Unconditional reports whether the signal fires regardless of price action.
func (s Signal) Unconditional() bool { return !s.Timing.Conditional() }

// Key returns the position-book slot this signal refers to.
func (s Signal) Key() PosKey { return PosKey{Symbol: s.Symbol, Method: s.Method.Name} }

// EntrySignal is a signal that opens a position once executed. Volume is
// zero until the allocation and equity rules have sized it; Sized returns a
// copy rather than mutating in place.
type EntrySignal struct {
	Signal
	Volume int
}

// Sized returns a copy of the entry signal with its volume set.
func (e EntrySignal) Sized(volume int) EntrySignal {
	e.Volume = volume
	return e
}

// ExitSignal is a signal that closes the given position once executed.
type ExitSignal struct {
	Signal
	Position Position
	ExitRule string
}

// NewExitSignal builds an exit signal for an open position. The embedded
// Signal keeps the entry rule tag so the eventual trade record carries both.
func NewExitSignal(pos Position, rule string, timing Timing, price float64) (ExitSignal, error) {
	sig, err := NewSignal(pos.Symbol, pos.Method, pos.EntryRule, timing, price)
	if err != nil {
		return ExitSignal{}, err
	}
	return ExitSignal{Signal: sig, Position: pos, ExitRule: rule}, nil
}

// Position is a filled entry signal currently held.
type Position struct {
	Symbol     string
	Method     Method
	EntryRule  string
	EntryPrice float64
	EntryDate  time.Time
	Volume     int
}

// Key returns the position-book slot occupied by this position.
func (p Position) Key() PosKey { return PosKey{Symbol: p.Symbol, Method: p.Method.Name} }

// EntryCashflow is the cash change caused by opening the position. It is
// negative for both long and short positions (mirrored cash convention).
func (p Position) EntryCashflow() float64 {
	return -float64(p.Volume) * p.EntryPrice
}

// MarkValue is the position's contribution to portfolio value when the
// instrument trades at price. Shorts are valued at 2*entry - price.
func (p Position) MarkValue(price float64) float64 {
	if p.Method.Direction == Short {
		return float64(p.Volume) * (2*p.EntryPrice - price)
	}
	return float64(p.Volume) * price
}

// Trade is a closed position: a filled exit signal applied to a Position.
// Immutable once created.
type Trade struct {
	Symbol     string
	Method     Method
	Volume     int
	EntryRule  string
	EntryPrice float64
	EntryDate  time.Time
	ExitRule   string
	ExitPrice  float64
	ExitDate   time.Time
}

// CloseTrade combines a position with its exit fill.
func CloseTrade(pos Position, exitRule string, exitPrice float64, exitDate time.Time) Trade {
	return Trade{
		Symbol:     pos.Symbol,
		Method:     pos.Method,
		Volume:     pos.Volume,
		EntryRule:  pos.EntryRule,
		EntryPrice: pos.EntryPrice,
		EntryDate:  pos.EntryDate,
		ExitRule:   exitRule,
		ExitPrice:  exitPrice,
		ExitDate:   exitDate,
	}
}

// Gain returns the trade result as a growth factor: 1.0 means break-even.
func (t Trade) Gain() float64 {
	return 1 + float64(t.Method.Direction)*(t.ExitPrice/t.EntryPrice-1)
}

// ProfitPct returns the trade result in percent.
func (t Trade) ProfitPct() float64 { return 100 * (t.Gain() - 1) }

// ExitCashflow is the cash change caused by closing the trade. It is
// positive for both directions; short profit/loss is captured by the
// mirrored 2*entry - exit convention.
func (t Trade) ExitCashflow() float64 {
	if t.Method.Direction == Short {
		return float64(t.Volume) * (2*t.EntryPrice - t.ExitPrice)
	}
	return float64(t.Volume) * t.ExitPrice
}
