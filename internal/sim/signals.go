package sim

import (
	"sort"

	"backsim/internal/domain"
)

// PendingEntry is an entry signal waiting for tomorrow's bar, together with
// the cash and risk it will commit once sized. The risk numbers are zero
// until Size has been called.
type PendingEntry struct {
	Signal     domain.EntrySignal
	Price      float64 // estimated entry price, for cash accounting
	StopRisk   float64
	EquityRisk float64
}

// PendingExit is an exit signal waiting for tomorrow's bar. CashEstimate is
// the position's mark value when the signal was generated; unconditional
// exits free roughly that much cash, which the cash guard may spend on new
// entries the same day.
type PendingExit struct {
	Signal       domain.ExitSignal
	CashEstimate float64
}

// Pending holds tomorrow's signals, at most one entry and one exit per
// (symbol, method) key. Adding a signal for an occupied key replaces the
// pending one: a fresh signal reflects newer price action, and an
// unconditional signal in particular discards a stale conditional one.
// Signals that do not trigger carry forward to the next day.
type Pending struct {
	entries    []*PendingEntry
	exits      []*PendingExit
	entryByKey map[domain.PosKey]*PendingEntry
	exitByKey  map[domain.PosKey]*PendingExit
}

func NewPending() *Pending {
	return &Pending{
		entryByKey: make(map[domain.PosKey]*PendingEntry),
		exitByKey:  make(map[domain.PosKey]*PendingExit),
	}
}

// AddEntry queues an entry signal, replacing any pending entry for the same
// key. The replacement keeps the queue position of the old signal so
// sizing order stays stable across days.
func (p *Pending) AddEntry(sig domain.EntrySignal, price float64) {
	key := sig.Key()
	if old, ok := p.entryByKey[key]; ok {
		old.Signal = sig
		old.Price = price
		old.StopRisk = 0
		old.EquityRisk = 0
		return
	}
	e := &PendingEntry{Signal: sig, Price: price}
	p.entries = append(p.entries, e)
	p.entryByKey[key] = e
}

// AddExit queues an exit signal, replacing any pending exit for the same key.
func (p *Pending) AddExit(sig domain.ExitSignal, cashEstimate float64) {
	key := sig.Key()
	if old, ok := p.exitByKey[key]; ok {
		old.Signal = sig
		old.CashEstimate = cashEstimate
		return
	}
	e := &PendingExit{Signal: sig, CashEstimate: cashEstimate}
	p.exits = append(p.exits, e)
	p.exitByKey[key] = e
}

// HasEntry reports whether an entry is already queued for the key.
func (p *Pending) HasEntry(key domain.PosKey) bool {
	_, ok := p.entryByKey[key]
	return ok
}

// HasExit reports whether an exit is already queued for the key.
func (p *Pending) HasExit(key domain.PosKey) bool {
	_, ok := p.exitByKey[key]
	return ok
}

// Entries returns the queued entries in insertion order.
func (p *Pending) Entries() []*PendingEntry { return p.entries }

// Exits returns the queued exits sorted by key, so settlement order does
// not depend on generation order.
func (p *Pending) Exits() []*PendingExit {
	out := make([]*PendingExit, len(p.exits))
	copy(out, p.exits)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Signal.Key(), out[j].Signal.Key()
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Method < b.Method
	})
	return out
}

// RemoveEntry drops the queued entry for key.
func (p *Pending) RemoveEntry(key domain.PosKey) {
	if _, ok := p.entryByKey[key]; !ok {
		return
	}
	delete(p.entryByKey, key)
	for i, e := range p.entries {
		if e.Signal.Key() == key {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
}

// RemoveExit drops the queued exit for key.
func (p *Pending) RemoveExit(key domain.PosKey) {
	if _, ok := p.exitByKey[key]; !ok {
		return
	}
	delete(p.exitByKey, key)
	for i, e := range p.exits {
		if e.Signal.Key() == key {
			p.exits = append(p.exits[:i], p.exits[i+1:]...)
			break
		}
	}
}

// EntriesCash is the cash the sized pending entries will consume.
func (p *Pending) EntriesCash() float64 {
	var total float64
	for _, e := range p.entries {
		total += float64(e.Signal.Volume) * e.Price
	}
	return total
}

// ExitsCash is the cash the pending unconditional exits will free.
func (p *Pending) ExitsCash() float64 {
	var total float64
	for _, e := range p.exits {
		if e.Signal.Unconditional() {
			total += e.CashEstimate
		}
	}
	return total
}

// StopLossRisk is the stop loss risk committed by sized pending entries.
func (p *Pending) StopLossRisk() float64 {
	var total float64
	for _, e := range p.entries {
		total += e.StopRisk
	}
	return total
}

// EquityRisk is the equity risk committed by sized pending entries.
func (p *Pending) EquityRisk() float64 {
	var total float64
	for _, e := range p.entries {
		total += e.EquityRisk
	}
	return total
}

// CountExecutableEntries counts pending entries with a non-zero volume.
func (p *Pending) CountExecutableEntries() int {
	n := 0
	for _, e := range p.entries {
		if e.Signal.Volume > 0 {
			n++
		}
	}
	return n
}

// CountUnconditionalExits counts pending exits that will certainly execute.
func (p *Pending) CountUnconditionalExits() int {
	n := 0
	for _, e := range p.exits {
		if e.Signal.Unconditional() {
			n++
		}
	}
	return n
}
