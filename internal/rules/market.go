package rules

import (
	"fmt"
	"math"
	"sync"

	"backsim/internal/price"
)

// ---------------------------------------------------------------------------
// all: no market filtering
// ---------------------------------------------------------------------------

// marketAll keeps every method tradeable, in declared order.
type marketAll struct{}

var _ MarketTypeRule = (*marketAll)(nil)

func newMarketAll(Params) (MarketTypeRule, error) { return &marketAll{}, nil }

func (r *marketAll) Tag() string { return "all" }

func (r *marketAll) Select(_ *price.Quotes, _ int, methods []*Method) []*Method {
	return methods
}

// ---------------------------------------------------------------------------
// trend: moving average trend of the index
// ---------------------------------------------------------------------------

// marketTrend classifies each day as Up or Down from the index close against
// its nma day moving average, with a hysteresis band: inside the band the
// previous trend sticks. The first matching method trades; a method with the
// Any mask matches every trend.
//
// The trend series is computed once per index history and cached, so a
// sweep sharing one History pays for it once.
type marketTrend struct {
	nma        int
	hysteresis float64 // as a fraction

	mu    sync.Mutex
	cache map[*price.Quotes][]MarketType
}

var _ MarketTypeRule = (*marketTrend)(nil)

func newMarketTrend(p Params) (MarketTypeRule, error) {
	nma, err := p.IntOr("nma", 200)
	if err != nil {
		return nil, err
	}
	if nma < 1 {
		return nil, fmt.Errorf("%w: nma = %d, want >= 1", ErrBadParam, nma)
	}
	hy, err := p.FloatOr("hy", 0)
	if err != nil {
		return nil, err
	}
	if hy < 0 || hy >= 100 {
		return nil, fmt.Errorf("%w: hy = %v, want in [0, 100)", ErrBadParam, hy)
	}
	return &marketTrend{
		nma:        nma,
		hysteresis: 0.01 * hy,
		cache:      make(map[*price.Quotes][]MarketType),
	}, nil
}

func (r *marketTrend) Tag() string { return "trend" }

func (r *marketTrend) Select(index *price.Quotes, i int, methods []*Method) []*Method {
	trend := r.trends(index)[i]
	for _, m := range methods {
		if m.MarketTypes == Any || trend&m.MarketTypes != 0 {
			return []*Method{m}
		}
	}
	return nil
}

func (r *marketTrend) trends(index *price.Quotes) []MarketType {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[index]; ok {
		return cached
	}

	sma := index.SMA(r.nma)
	out := make([]MarketType, index.Len())
	trend := Up
	if index.CloseAt(0) < sma[0] {
		trend = Down
	}
	for i := range out {
		c, m := index.CloseAt(i), sma[i]
		switch {
		case math.IsNaN(m):
			// not enough history yet, keep the initial trend
		case c < m*(1-r.hysteresis):
			trend = Down
		case c > m*(1+r.hysteresis):
			trend = Up
		}
		out[i] = trend
	}
	r.cache[index] = out
	return out
}
