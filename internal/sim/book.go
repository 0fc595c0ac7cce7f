package sim

import (
	"fmt"
	"sort"
	"time"

	"backsim/internal/domain"
	"backsim/internal/price"
)

// ForceCloseRule is the exit rule tag recorded on trades closed because the
// simulation ended with the position still open.
const ForceCloseRule = "open"

// StopFunc returns the current stop level for an open position, if its
// method defines one.
type StopFunc func(pos domain.Position, date time.Time) (float64, bool)

// Book holds the open positions, at most one per (symbol, method) key.
// A key collision or a close of an unknown key is a programming error, not
// a data condition, and is returned as such.
type Book struct {
	positions     map[domain.PosKey]domain.Position
	maxConcurrent int
}

func NewBook() *Book {
	return &Book{positions: make(map[domain.PosKey]domain.Position)}
}

func (b *Book) Len() int { return len(b.positions) }

// MaxConcurrent is the high-water mark of simultaneously open positions.
func (b *Book) MaxConcurrent() int { return b.maxConcurrent }

// Has reports whether a position occupies the key.
func (b *Book) Has(key domain.PosKey) bool {
	_, ok := b.positions[key]
	return ok
}

// Get returns the position at key.
func (b *Book) Get(key domain.PosKey) (domain.Position, bool) {
	pos, ok := b.positions[key]
	return pos, ok
}

// Keys returns the occupied keys in sorted order, so iteration over the
// book is deterministic.
func (b *Book) Keys() []domain.PosKey {
	keys := make([]domain.PosKey, 0, len(b.positions))
	for k := range b.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

// Open adds a filled entry to the book and returns its cash impact.
func (b *Book) Open(pos domain.Position) (float64, error) {
	key := pos.Key()
	if _, ok := b.positions[key]; ok {
		return 0, fmt.Errorf("position book: key %s already occupied", key)
	}
	b.positions[key] = pos
	if len(b.positions) > b.maxConcurrent {
		b.maxConcurrent = len(b.positions)
	}
	return pos.EntryCashflow(), nil
}

// Close removes the position at key and returns the trade and its cash
// impact.
func (b *Book) Close(key domain.PosKey, exitRule string, exitPrice float64, exitDate time.Time) (domain.Trade, float64, error) {
	pos, ok := b.positions[key]
	if !ok {
		return domain.Trade{}, 0, fmt.Errorf("position book: close of unknown key %s", key)
	}
	delete(b.positions, key)
	trade := domain.CloseTrade(pos, exitRule, exitPrice, exitDate)
	return trade, trade.ExitCashflow(), nil
}

// Value marks every open position at the last close on or before date.
// Positions whose instrument has no price at all contribute nothing.
func (b *Book) Value(h *price.History, date time.Time) float64 {
	var total float64
	for _, key := range b.Keys() {
		pos := b.positions[key]
		q, ok := h.Quotes(pos.Symbol)
		if !ok {
			continue
		}
		c, ok := q.CloseAsOf(date)
		if !ok {
			continue
		}
		total += pos.MarkValue(c)
	}
	return total
}

// StopLossRisk sums, over all open positions with a stop inside their entry
// price, the loss from entry if they sold at that stop. Always >= 0.
func (b *Book) StopLossRisk(date time.Time, stopOf StopFunc) float64 {
	var total float64
	for _, key := range b.Keys() {
		pos := b.positions[key]
		stop, ok := stopOf(pos, date)
		if !ok {
			continue
		}
		risk := float64(pos.Volume) * float64(pos.Method.Direction) * (pos.EntryPrice - stop)
		if risk > 0 {
			total += risk
		}
	}
	return total
}

// EquityRisk sums the equity drop if every open position sold at its stop.
// Unlike StopLossRisk, per-position contributions may be negative when the
// stop has been raised above the current price.
func (b *Book) EquityRisk(h *price.History, date time.Time, stopOf StopFunc) float64 {
	var total float64
	for _, key := range b.Keys() {
		pos := b.positions[key]
		stop, ok := stopOf(pos, date)
		if !ok {
			continue
		}
		q, ok := h.Quotes(pos.Symbol)
		if !ok {
			continue
		}
		c, ok := q.CloseAsOf(date)
		if !ok {
			continue
		}
		total += float64(pos.Volume) * float64(pos.Method.Direction) * (c - stop)
	}
	return total
}

// ForceCloseAll closes every open position at the last close on or before
// date, tagged with ForceCloseRule. Returns the trades in key order and the
// total cash impact.
func (b *Book) ForceCloseAll(h *price.History, date time.Time) ([]domain.Trade, float64) {
	var trades []domain.Trade
	var cash float64
	for _, key := range b.Keys() {
		pos := b.positions[key]
		q, ok := h.Quotes(pos.Symbol)
		if !ok {
			continue
		}
		c, ok := q.CloseAsOf(date)
		if !ok {
			continue
		}
		trade, flow, err := b.Close(key, ForceCloseRule, c, date)
		if err != nil {
			continue
		}
		trades = append(trades, trade)
		cash += flow
	}
	return trades, cash
}
