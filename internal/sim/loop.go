package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backsim/internal/domain"
	"backsim/internal/equity"
	"backsim/internal/price"
	"backsim/internal/rules"
)

// State of a simulation loop.
type State int

const (
	Idle State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return "idle"
}

var (
	ErrNotIdle     = errors.New("simulation already started")
	ErrEmptyWindow = errors.New("no trading days in the simulation window")
	ErrBadSystem   = errors.New("invalid system definition")
)

// System is a fully built trading system: its methods with their rule
// wiring, the sizing chain and the market-type selector. Systems are
// read-only during a run and may be shared by value across runs.
type System struct {
	Name       string
	StartCash  float64
	Methods    []*rules.Method
	Allocation rules.AllocationRule
	Guards     []rules.EquityRule
	Market     rules.MarketTypeRule
}

func (s *System) validate() error {
	switch {
	case s.StartCash <= 0:
		return fmt.Errorf("%w: start cash %v", ErrBadSystem, s.StartCash)
	case len(s.Methods) == 0:
		return fmt.Errorf("%w: no methods", ErrBadSystem)
	case s.Allocation == nil:
		return fmt.Errorf("%w: no allocation rule", ErrBadSystem)
	case s.Market == nil:
		return fmt.Errorf("%w: no market type rule", ErrBadSystem)
	}
	seen := make(map[string]bool, len(s.Methods))
	for _, m := range s.Methods {
		if m.Name == "" || seen[m.Name] {
			return fmt.Errorf("%w: duplicate or empty method name %q", ErrBadSystem, m.Name)
		}
		seen[m.Name] = true
		if len(m.Entries) == 0 {
			return fmt.Errorf("%w: method %s has no entry rules", ErrBadSystem, m.Name)
		}
	}
	return nil
}

// Summary is the frozen outcome of a finished run.
type Summary struct {
	Name          string
	StartDate     time.Time
	EndDate       time.Time
	StartCash     float64
	EndEquity     float64
	MaxConcurrent int
	NTrades       int
	Performance   equity.Performance
	Results       equity.Results
}

// Loop drives one simulation over the trading calendar. Signals generated
// on day N settle against day N+1's bars; the final day force-closes
// everything at the close.
type Loop struct {
	sys  *System
	hist *price.History
	log  *slog.Logger

	state   State
	book    *Book
	pending *Pending
	ledger  *equity.Ledger
	trades  *equity.TradeLog
	methods map[string]*rules.Method
	summary *Summary
}

func NewLoop(sys *System, hist *price.History, log *slog.Logger) (*Loop, error) {
	if err := sys.validate(); err != nil {
		return nil, err
	}
	methods := make(map[string]*rules.Method, len(sys.Methods))
	for _, m := range sys.Methods {
		methods[m.Name] = m
	}
	return &Loop{
		sys:     sys,
		hist:    hist,
		log:     log,
		book:    NewBook(),
		pending: NewPending(),
		ledger:  equity.NewLedger(sys.StartCash),
		trades:  equity.NewTradeLog(),
		methods: methods,
	}, nil
}

func (l *Loop) State() State             { return l.state }
func (l *Loop) Ledger() *equity.Ledger   { return l.ledger }
func (l *Loop) Trades() *equity.TradeLog { return l.trades }
func (l *Loop) Summary() *Summary        { return l.summary }

// Run executes the simulation over [start, end] on the index calendar and
// returns the frozen summary. A loop runs exactly once.
func (l *Loop) Run(ctx context.Context, start, end time.Time) (*Summary, error) {
	if l.state != Idle {
		return nil, ErrNotIdle
	}
	dates := l.hist.Dates(start, end)
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: %s..%s", ErrEmptyWindow,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	l.state = Running
	l.log.Info("simulation started",
		"system", l.sys.Name, "days", len(dates),
		"from", dates[0].Format("2006-01-02"), "to", dates[len(dates)-1].Format("2006-01-02"))

	for di, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cashflow := l.settleExits(date) + l.settleEntries(date)

		last := di == len(dates)-1
		if last {
			closed, flow := l.book.ForceCloseAll(l.hist, date)
			for _, trade := range closed {
				l.record(trade)
			}
			cashflow += flow
		}
		l.ledger.Update(date, cashflow, l.book.Value(l.hist, date))
		if last {
			break
		}

		if err := l.generateSignals(date); err != nil {
			return nil, err
		}
		if err := l.sizeEntries(date); err != nil {
			return nil, err
		}
	}

	l.summary = &Summary{
		Name:          l.sys.Name,
		StartDate:     dates[0],
		EndDate:       dates[len(dates)-1],
		StartCash:     l.sys.StartCash,
		EndEquity:     l.ledger.Total.Last(),
		MaxConcurrent: l.book.MaxConcurrent(),
		NTrades:       l.trades.Len(),
		Performance:   l.trades.Performance(dates[0], dates[len(dates)-1], l.book.MaxConcurrent()),
		Results:       l.ledger.Results(),
	}
	l.state = Finished
	l.log.Info("simulation finished",
		"system", l.sys.Name, "trades", l.summary.NTrades,
		"end_equity", l.summary.EndEquity)
	return l.summary, nil
}

// settleExits fills yesterday's exit signals against today's bars. Signals
// whose position is already gone are dropped; signals without a bar or an
// untriggered threshold carry forward.
func (l *Loop) settleExits(date time.Time) float64 {
	var cashflow float64
	for _, e := range l.pending.Exits() {
		key := e.Signal.Key()
		if !l.book.Has(key) {
			l.pending.RemoveExit(key)
			continue
		}
		bar, ok := l.hist.Bar(key.Symbol, date)
		if !ok {
			continue
		}
		fill, ok := Resolve(e.Signal.Signal, bar, false)
		if !ok {
			continue
		}
		trade, flow, err := l.book.Close(key, e.Signal.ExitRule, fill, date)
		if err != nil {
			l.pending.RemoveExit(key)
			continue
		}
		l.record(trade)
		cashflow += flow
		l.pending.RemoveExit(key)
	}
	return cashflow
}

// settleEntries fills yesterday's sized entry signals against today's bars.
func (l *Loop) settleEntries(date time.Time) float64 {
	var cashflow float64
	snapshot := append([]*PendingEntry(nil), l.pending.Entries()...)
	for _, e := range snapshot {
		key := e.Signal.Key()
		if l.book.Has(key) || e.Signal.Volume <= 0 {
			l.pending.RemoveEntry(key)
			continue
		}
		bar, ok := l.hist.Bar(key.Symbol, date)
		if !ok {
			continue
		}
		fill, ok := Resolve(e.Signal.Signal, bar, true)
		if !ok {
			continue
		}
		pos := domain.Position{
			Symbol:     key.Symbol,
			Method:     e.Signal.Method,
			EntryRule:  e.Signal.Rule,
			EntryPrice: fill,
			EntryDate:  date,
			Volume:     e.Signal.Volume,
		}
		flow, err := l.book.Open(pos)
		if err != nil {
			l.pending.RemoveEntry(key)
			continue
		}
		cashflow += flow
		l.pending.RemoveEntry(key)
	}
	return cashflow
}

func (l *Loop) record(trade domain.Trade) {
	l.trades.Append(trade, l.hist.DayCount(trade.EntryDate, trade.ExitDate))
}

// generateSignals produces tomorrow's exit and entry signals from today's
// price action.
func (l *Loop) generateSignals(date time.Time) error {
	index := l.hist.Index()
	di, ok := index.Index(date)
	if !ok {
		return fmt.Errorf("date %s not on the index calendar", date.Format("2006-01-02"))
	}
	selected := l.sys.Market.Select(index, di, l.sys.Methods)

	// Exits for every open position, whether or not its method may enter
	// today.
	for _, key := range l.book.Keys() {
		pos, _ := l.book.Get(key)
		m := l.methods[key.Method]
		q, ok := l.hist.Quotes(pos.Symbol)
		if !ok {
			continue
		}
		qi, ok := q.Index(date)
		if !ok {
			continue
		}
		if sig, ok := effectiveExit(m, q, qi, pos); ok {
			cash := 0.0
			if c, ok := q.CloseAsOf(date); ok {
				cash = pos.MarkValue(c)
			}
			l.pending.AddExit(sig, cash)
		}
	}

	// Entries from the ranked candidates of each selected method.
	for _, m := range selected {
		for _, cand := range l.candidates(m, date) {
			if !cand.Valid {
				continue
			}
			key := domain.PosKey{Symbol: cand.Symbol, Method: m.Name}
			if l.book.Has(key) {
				continue
			}
			q, ok := l.hist.Quotes(cand.Symbol)
			if !ok {
				continue
			}
			qi, ok := q.Index(date)
			if !ok {
				continue
			}
			for _, entry := range m.Entries {
				sig, ok := entry.Signal(q, qi, m.Method)
				if !ok {
					continue
				}
				// A same-day exit condition vetoes the candidate.
				if m.PreventsEntry(q, qi) {
					break
				}
				est := sig.Price
				if !sig.Timing.Conditional() {
					est = q.CloseAt(qi)
				}
				l.pending.AddEntry(domain.EntrySignal{Signal: sig}, est)
				if sig.Unconditional() {
					break
				}
			}
		}
	}
	return nil
}

func (l *Loop) candidates(m *rules.Method, date time.Time) []rules.Ranked {
	if m.Rank != nil {
		return m.Rank.Rank(l.hist, l.hist.Symbols(), date)
	}
	var list []rules.Ranked
	for _, symbol := range l.hist.Symbols() {
		list = append(list, rules.Ranked{Symbol: symbol, Valid: true})
	}
	return list
}

// effectiveExit reduces a method's exit signals for a position to the one
// that executes first: the first unconditional signal in rule order wins
// outright, otherwise the tightest stop (highest for longs, lowest for
// shorts).
func effectiveExit(m *rules.Method, q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	if m == nil {
		return domain.ExitSignal{}, false
	}
	var best domain.ExitSignal
	var found bool
	for _, exit := range m.Exits {
		sig, ok := exit.Signal(q, i, pos)
		if !ok {
			continue
		}
		if sig.Unconditional() {
			return sig, true
		}
		if sig.Timing != domain.AtStop {
			continue
		}
		tighter := !found ||
			(pos.Method.Direction == domain.Long && sig.Price > best.Price) ||
			(pos.Method.Direction == domain.Short && sig.Price < best.Price)
		if tighter {
			best = sig
			found = true
		}
	}
	return best, found
}

// stopOf is the current protective stop of an open position, used for the
// risk aggregates the equity guards consume.
func (l *Loop) stopOf(pos domain.Position, date time.Time) (float64, bool) {
	m := l.methods[pos.Method.Name]
	if m == nil {
		return 0, false
	}
	q, ok := l.hist.Quotes(pos.Symbol)
	if !ok {
		return 0, false
	}
	qi, ok := q.Index(date)
	if !ok {
		return 0, false
	}
	sig, ok := effectiveExit(m, q, qi, pos)
	if !ok || sig.Timing != domain.AtStop {
		return 0, false
	}
	return sig.Price, true
}

// sizeEntries runs every pending entry through the allocation rule and the
// equity guards, in queue order. Once a guard zeroes an entry, all entries
// behind it are dropped too; zero-volume entries never reach settlement.
func (l *Loop) sizeEntries(date time.Time) error {
	totalEquity := l.ledger.Total.Last()
	cash := l.ledger.Cash.Last()
	openSLR := l.book.StopLossRisk(date, l.stopOf)
	openER := l.book.EquityRisk(l.hist, date, l.stopOf)

	zeroRest := false
	snapshot := append([]*PendingEntry(nil), l.pending.Entries()...)
	for _, e := range snapshot {
		key := e.Signal.Key()
		if zeroRest {
			l.pending.RemoveEntry(key)
			continue
		}
		m := l.methods[key.Method]
		q, ok := l.hist.Quotes(key.Symbol)
		if !ok {
			l.pending.RemoveEntry(key)
			continue
		}
		qi, ok := q.Index(date)
		if !ok {
			// No bar today: keep the signal as sized before.
			continue
		}

		// Reset this entry's committed cash and risk so the aggregates
		// below exclude it.
		e.Signal = e.Signal.Sized(0)
		e.StopRisk = 0
		e.EquityRisk = 0

		s := &rules.Sizing{
			Quotes:      q,
			Day:         qi,
			Signal:      e.Signal.Signal,
			Method:      m,
			TotalEquity: totalEquity,
		}
		volume, err := l.sys.Allocation.Volume(s)
		if err != nil {
			return fmt.Errorf("sizing %s on %s: %w", key, date.Format("2006-01-02"), err)
		}

		g := &rules.GuardContext{
			Date:                      date,
			Cash:                      cash,
			TotalEquity:               totalEquity,
			OpenPositions:             l.book.Len(),
			OpenStopRisk:              openSLR,
			OpenEquityRisk:            openER,
			PendingEntriesCash:        l.pending.EntriesCash(),
			PendingExitsCash:          l.pending.ExitsCash(),
			PendingStopRisk:           l.pending.StopLossRisk(),
			PendingEquityRisk:         l.pending.EquityRisk(),
			PendingExecutableEntries:  l.pending.CountExecutableEntries(),
			PendingUnconditionalExits: l.pending.CountUnconditionalExits(),
			Price:                     s.Price(),
			Close:                     s.Close(),
			Stop:                      s.Stop,
		}
		for _, guard := range l.sys.Guards {
			volume, err = guard.AdjustVolume(g, volume)
			if err != nil {
				return fmt.Errorf("guard %s on %s: %w", guard.Tag(), date.Format("2006-01-02"), err)
			}
			if volume <= 0 {
				break
			}
		}
		if volume <= 0 {
			l.pending.RemoveEntry(key)
			zeroRest = true
			continue
		}

		e.Signal = e.Signal.Sized(volume)
		e.Price = s.Price()
		if stop, err := s.Stop(); err == nil {
			slr := float64(volume) * float64(e.Signal.Method.Direction) * (e.Price - stop)
			if slr < 0 {
				slr = 0
			}
			e.StopRisk = slr
			e.EquityRisk = float64(volume) * float64(e.Signal.Method.Direction) * (s.Close() - stop)
		}
	}
	return nil
}
