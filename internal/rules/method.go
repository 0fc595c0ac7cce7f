package rules

import (
	"fmt"
	"time"

	"backsim/internal/domain"
	"backsim/internal/price"
)

// MarketType is a bitmask of market conditions a method trades in.
type MarketType int

const (
	Any  MarketType = 0
	Up   MarketType = 1
	Flat MarketType = 2
	Down MarketType = 4
)

// Method is a configured sub-strategy: the domain descriptor plus its rule
// wiring. Entry and exit rules are evaluated in declared order.
type Method struct {
	domain.Method
	MarketTypes MarketType
	Rank        RankRule
	Entries     []EntryRule
	Exits       []ExitRule
}

// EntryRule generates an entry signal for the next trading day from the
// price action of symbol q up to and including index i. A false return means
// no signal, including when the lookback exceeds the available history.
type EntryRule interface {
	Tag() string
	Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool)
}

// ExitRule generates an exit signal for the next trading day from an open
// position. CanPreventEntry marks rules whose same-day signal against a
// would-be entry discards that entry candidate.
type ExitRule interface {
	Tag() string
	CanPreventEntry() bool
	Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool)
}

// RankRule orders the candidate instruments of a method for entry
// evaluation. The result may hold a symbol more than once (multi-lookback
// ranking) and marks candidates that fail the validity threshold.
type RankRule interface {
	Tag() string
	Rank(h *price.History, symbols []string, date time.Time) []Ranked
}

// Ranked is one candidate in a ranked list.
type Ranked struct {
	Symbol string
	Value  float64
	Valid  bool
}

// AllocationRule sizes an entry signal to a share volume.
type AllocationRule interface {
	Tag() string
	Volume(s *Sizing) (int, error)
}

// EquityRule adjusts the volume of an entry signal against a budget: cash,
// position count or a risk ceiling. A returned volume of 0 rejects the
// entry and short-circuits sizing of all remaining entries for the day.
type EquityRule interface {
	Tag() string
	AdjustVolume(ctx *GuardContext, volume int) (int, error)
}

// MarketTypeRule selects which methods may trade on a given day, based on
// the index quotes up to index i.
type MarketTypeRule interface {
	Tag() string
	Select(index *price.Quotes, i int, methods []*Method) []*Method
}

// probePosition is a volume-1 position opened hypothetically today, used to
// evaluate exit rules before an entry exists (stop lookup, can-prevent-entry).
func probePosition(symbol string, m domain.Method, date time.Time) domain.Position {
	return domain.Position{
		Symbol:    symbol,
		Method:    m,
		EntryRule: "probe",
		EntryDate: date,
		Volume:    1,
	}
}

// StopPrice returns the stop level implied by the method's exit rules for a
// position entered tomorrow: the highest stop over all exit rules evaluated
// against a probe position. A method without any stop-producing exit rule
// cannot be risk-sized; that is a configuration error.
func (m *Method) StopPrice(q *price.Quotes, i int) (float64, error) {
	probe := probePosition(q.Symbol, m.Method, q.DateAt(i))
	var stop float64
	for _, exit := range m.Exits {
		sig, ok := exit.Signal(q, i, probe)
		if ok && sig.Timing == domain.AtStop && sig.Price > stop {
			stop = sig.Price
		}
	}
	if stop == 0 {
		return 0, fmt.Errorf("%w: method %s", ErrNoStopRule, m.Name)
	}
	return stop, nil
}

// PreventsEntry reports whether any can-prevent-entry exit rule fires today
// against a probe position for symbol, which discards the entry candidate.
func (m *Method) PreventsEntry(q *price.Quotes, i int) bool {
	probe := probePosition(q.Symbol, m.Method, q.DateAt(i))
	for _, exit := range m.Exits {
		if !exit.CanPreventEntry() {
			continue
		}
		if _, ok := exit.Signal(q, i, probe); ok {
			return true
		}
	}
	return false
}

// Sizing carries the inputs of an allocation calculation for one entry
// signal: the signal, its method, the quotes of its instrument and the
// account equity on the signal date (the day before entry).
type Sizing struct {
	Quotes      *price.Quotes
	Day         int // index of the signal date in Quotes
	Signal      domain.Signal
	Method      *Method
	TotalEquity float64
}

// Price estimates the entry price: the threshold for conditional signals,
// today's close otherwise.
func (s *Sizing) Price() float64 {
	if s.Signal.Timing.Conditional() {
		return s.Signal.Price
	}
	return s.Quotes.CloseAt(s.Day)
}

// Close returns today's closing price of the instrument.
func (s *Sizing) Close() float64 { return s.Quotes.CloseAt(s.Day) }

// Stop returns the method's stop level for this entry.
func (s *Sizing) Stop() (float64, error) {
	return s.Method.StopPrice(s.Quotes, s.Day)
}

// GuardContext carries the account state an equity guard decides on. The
// pending aggregates include entries already sized earlier on the same day,
// so guards see the cash and risk committed so far.
type GuardContext struct {
	Date        time.Time
	Cash        float64
	TotalEquity float64

	OpenPositions  int
	OpenStopRisk   float64
	OpenEquityRisk float64

	PendingEntriesCash        float64 // cost of sized pending entries
	PendingExitsCash          float64 // cash freed by unconditional pending exits
	PendingStopRisk           float64
	PendingEquityRisk         float64
	PendingExecutableEntries  int
	PendingUnconditionalExits int

	// Per-entry values for the signal being sized.
	Price float64
	Close float64
	Stop  func() (float64, error)
}

// AvailableCash is the cash budget for new entries: current cash plus what
// unconditional exits will free, minus what sized entries will consume.
func (g *GuardContext) AvailableCash() float64 {
	return g.Cash + g.PendingExitsCash - g.PendingEntriesCash
}

// StopLossRisk is the loss if a volume of the entry sells at its stop
// tomorrow. Zero when the stop is above the entry price.
func (g *GuardContext) StopLossRisk(volume int) (float64, error) {
	stop, err := g.Stop()
	if err != nil {
		return 0, err
	}
	if stop >= g.Price {
		return 0, nil
	}
	return float64(volume) * (g.Price - stop), nil
}

// EquityRisk is the drop of total equity, relative to today's close, if a
// volume of the entry sells at its stop tomorrow. May be negative when the
// stop is above the close.
func (g *GuardContext) EquityRisk(volume int) (float64, error) {
	stop, err := g.Stop()
	if err != nil {
		return 0, err
	}
	return float64(volume) * (g.Close - stop), nil
}
