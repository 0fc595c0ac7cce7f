package rules

import (
	"fmt"
	"math"
	"sort"
	"time"

	"backsim/internal/price"
)

// sortRanked orders candidates by value, best first per op, with the symbol
// as tie-break so runs are reproducible. NaN values sink to the end.
func sortRanked(list []Ranked, op string) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Value, list[j].Value
		switch {
		case math.IsNaN(a):
			return false
		case math.IsNaN(b):
			return true
		case a != b:
			if op == "gt" {
				return a > b
			}
			return a < b
		}
		return list[i].Symbol < list[j].Symbol
	})
}

// ---------------------------------------------------------------------------
// alpha: alphabetic
// ---------------------------------------------------------------------------

// rankAlpha ranks candidates by symbol. Every instrument that traded on the
// date is valid.
type rankAlpha struct{}

var _ RankRule = (*rankAlpha)(nil)

func newRankAlpha(Params) (RankRule, error) { return &rankAlpha{}, nil }

func (r *rankAlpha) Tag() string { return "alpha" }

func (r *rankAlpha) Rank(h *price.History, symbols []string, date time.Time) []Ranked {
	var list []Ranked
	for _, symbol := range symbols {
		if _, ok := h.Bar(symbol, date); !ok {
			continue
		}
		list = append(list, Ranked{Symbol: symbol, Valid: true})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list
}

// ---------------------------------------------------------------------------
// roc: rate of change
// ---------------------------------------------------------------------------

// rankROC ranks candidates by their nd day rate of change. Candidates whose
// value fails the op/th comparison stay in the list, marked invalid.
type rankROC struct {
	nd int
	op string
	th float64
}

var _ RankRule = (*rankROC)(nil)

func newRankROC(p Params) (RankRule, error) {
	nd, err := p.IntOr("nd", 20)
	if err != nil {
		return nil, err
	}
	if nd < 1 {
		return nil, fmt.Errorf("%w: nd = %d, want >= 1", ErrBadParam, nd)
	}
	op, err := p.Op("op")
	if err != nil {
		return nil, err
	}
	th, err := p.FloatOr("th", 0)
	if err != nil {
		return nil, err
	}
	return &rankROC{nd: nd, op: op, th: th}, nil
}

func (r *rankROC) Tag() string { return "roc" }

func (r *rankROC) Rank(h *price.History, symbols []string, date time.Time) []Ranked {
	var list []Ranked
	for _, symbol := range symbols {
		q, ok := h.Quotes(symbol)
		if !ok {
			continue
		}
		i, ok := q.Index(date)
		if !ok {
			continue
		}
		value := q.ROC(r.nd, i)
		list = append(list, Ranked{
			Symbol: symbol,
			Value:  value,
			Valid:  compare(r.op, value, r.th),
		})
	}
	sortRanked(list, r.op)
	return list
}

// ---------------------------------------------------------------------------
// quality: channel quality at one lookback
// ---------------------------------------------------------------------------

// rankQuality ranks candidates by their channel quality (angle over width)
// at a single lookback.
type rankQuality struct {
	lb  int
	op  string
	thq float64
}

var _ RankRule = (*rankQuality)(nil)

func newRankQuality(p Params) (RankRule, error) {
	lb, err := p.IntOr("lb", price.ChannelQuarter)
	if err != nil {
		return nil, err
	}
	if lb < 2 {
		return nil, fmt.Errorf("%w: lb = %d, want >= 2", ErrBadParam, lb)
	}
	op, err := p.Op("op")
	if err != nil {
		return nil, err
	}
	thq, err := p.FloatOr("thq", 0)
	if err != nil {
		return nil, err
	}
	return &rankQuality{lb: lb, op: op, thq: thq}, nil
}

func (r *rankQuality) Tag() string { return "quality" }

func (r *rankQuality) Rank(h *price.History, symbols []string, date time.Time) []Ranked {
	var list []Ranked
	for _, symbol := range symbols {
		q, ok := h.Quotes(symbol)
		if !ok {
			continue
		}
		i, ok := q.Index(date)
		if !ok {
			continue
		}
		c := q.Channels(r.lb)[i]
		value := c.Quality()
		list = append(list, Ranked{
			Symbol: symbol,
			Value:  value,
			Valid:  c.Valid() && compare(r.op, value, r.thq),
		})
	}
	sortRanked(list, r.op)
	return list
}

// ---------------------------------------------------------------------------
// qualityn: normalised channel quality over all lookbacks
// ---------------------------------------------------------------------------

// rankQualityN ranks candidates by normalised channel quality, iterating
// every standard lookback. An instrument may appear once per lookback, so
// the list can hold the same symbol several times; only candidates that
// pass the threshold are listed at all.
type rankQualityN struct {
	op  string
	thq float64
}

var _ RankRule = (*rankQualityN)(nil)

func newRankQualityN(p Params) (RankRule, error) {
	op, err := p.Op("op")
	if err != nil {
		return nil, err
	}
	thq, err := p.FloatOr("thq", 0)
	if err != nil {
		return nil, err
	}
	return &rankQualityN{op: op, thq: thq}, nil
}

func (r *rankQualityN) Tag() string { return "qualityn" }

func (r *rankQualityN) Rank(h *price.History, symbols []string, date time.Time) []Ranked {
	var list []Ranked
	for _, lb := range price.ChannelLookbacks {
		for _, symbol := range symbols {
			q, ok := h.Quotes(symbol)
			if !ok {
				continue
			}
			i, ok := q.Index(date)
			if !ok {
				continue
			}
			c := q.Channels(lb)[i]
			if !c.Valid() {
				continue
			}
			value := c.QualityN(lb)
			if !compare(r.op, value, r.thq) {
				continue
			}
			list = append(list, Ranked{Symbol: symbol, Value: value, Valid: true})
		}
	}
	sortRanked(list, r.op)
	return list
}
