package rules

import (
	"fmt"
	"math"

	"backsim/internal/domain"
	"backsim/internal/price"
)

// parseTiming maps the "at" parameter to a signal timing.
func parseTiming(s string) (domain.Timing, error) {
	t := domain.Timing(s)
	switch t {
	case domain.AtOpen, domain.AtClose, domain.AtLimit, domain.AtStop:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q is not a timing (o, c, l or s)", ErrBadParam, s)
}

// unconditionalTiming is for rules whose fire condition already closed over
// today's bar; only open or close execution makes sense for them.
func unconditionalTiming(s string) (domain.Timing, error) {
	t, err := parseTiming(s)
	if err != nil {
		return "", err
	}
	if t.Conditional() {
		return "", fmt.Errorf("%w: timing %q, want o or c", ErrBadParam, s)
	}
	return t, nil
}

// refPrice picks one of today's bar prices by field letter.
func refPrice(q *price.Quotes, i int, field string) (float64, error) {
	switch field {
	case "o":
		return q.OpenAt(i), nil
	case "h":
		return q.HighAt(i), nil
	case "l":
		return q.LowAt(i), nil
	case "c":
		return q.CloseAt(i), nil
	}
	return 0, fmt.Errorf("%w: price field %q, want o, h, l or c", ErrBadParam, field)
}

// ---------------------------------------------------------------------------
// day: enter every day
// ---------------------------------------------------------------------------

// entryDay signals an entry for every trading day. Conditional timings take
// their threshold from one of today's bar prices.
type entryDay struct {
	at domain.Timing
	pr string
}

var _ EntryRule = (*entryDay)(nil)

func newEntryDay(p Params) (EntryRule, error) {
	at, err := p.StrOr("at", "o")
	if err != nil {
		return nil, err
	}
	timing, err := parseTiming(at)
	if err != nil {
		return nil, err
	}
	pr, err := p.StrOr("pr", "c")
	if err != nil {
		return nil, err
	}
	if pr != "o" && pr != "h" && pr != "l" && pr != "c" {
		return nil, fmt.Errorf("%w: price field %q, want o, h, l or c", ErrBadParam, pr)
	}
	return &entryDay{at: timing, pr: pr}, nil
}

func (r *entryDay) Tag() string { return "day" }

func (r *entryDay) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	var threshold float64
	if r.at.Conditional() {
		threshold, _ = refPrice(q, i, r.pr)
	}
	sig, err := domain.NewSignal(q.Symbol, m, r.Tag(), r.at, threshold)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// ndd: n days down
// ---------------------------------------------------------------------------

// entryDaysDown signals like entryDay, but only after the instrument fell
// for nd consecutive days. "Fell" is closed down (cd), printed red candles
// (rc), or both.
type entryDaysDown struct {
	entryDay
	nd int
	cd bool
	rc bool
}

var _ EntryRule = (*entryDaysDown)(nil)

func newEntryDaysDown(p Params) (EntryRule, error) {
	base, err := newEntryDay(p)
	if err != nil {
		return nil, err
	}
	nd, err := p.IntOr("nd", 3)
	if err != nil {
		return nil, err
	}
	if nd < 1 {
		return nil, fmt.Errorf("%w: nd = %d, want >= 1", ErrBadParam, nd)
	}
	cd, err := p.Bool("cd", true)
	if err != nil {
		return nil, err
	}
	rc, err := p.Bool("rc", false)
	if err != nil {
		return nil, err
	}
	return &entryDaysDown{entryDay: *base.(*entryDay), nd: nd, cd: cd, rc: rc}, nil
}

func (r *entryDaysDown) Tag() string { return "ndd" }

func (r *entryDaysDown) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	if i < r.nd {
		return domain.Signal{}, false
	}
	if r.cd {
		for d := 0; d < r.nd; d++ {
			if q.CloseAt(i-d-1) <= q.CloseAt(i-d) {
				return domain.Signal{}, false
			}
		}
	}
	if r.rc {
		for d := 0; d < r.nd; d++ {
			if q.OpenAt(i-d) <= q.CloseAt(i-d) {
				return domain.Signal{}, false
			}
		}
	}
	sig, ok := r.entryDay.Signal(q, i, m)
	if !ok {
		return domain.Signal{}, false
	}
	sig.Rule = r.Tag()
	return sig, true
}

// ---------------------------------------------------------------------------
// week / month: calendar period boundaries
// ---------------------------------------------------------------------------

// entryWeek signals when the next trading day opens a new ISO week. The last
// bar of the history never signals; there is no next day to enter on.
type entryWeek struct {
	at domain.Timing
}

var _ EntryRule = (*entryWeek)(nil)

func newEntryWeek(p Params) (EntryRule, error) {
	at, err := p.StrOr("at", "o")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	return &entryWeek{at: timing}, nil
}

func (r *entryWeek) Tag() string { return "week" }

func (r *entryWeek) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	if i+1 >= q.Len() {
		return domain.Signal{}, false
	}
	_, wToday := q.DateAt(i).ISOWeek()
	_, wNext := q.DateAt(i + 1).ISOWeek()
	if wToday == wNext {
		return domain.Signal{}, false
	}
	sig, err := domain.NewSignal(q.Symbol, m, r.Tag(), r.at, 0)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}

// entryMonth signals when the next trading day opens a new calendar month.
type entryMonth struct {
	at domain.Timing
}

var _ EntryRule = (*entryMonth)(nil)

func newEntryMonth(p Params) (EntryRule, error) {
	at, err := p.StrOr("at", "o")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	return &entryMonth{at: timing}, nil
}

func (r *entryMonth) Tag() string { return "month" }

func (r *entryMonth) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	if i+1 >= q.Len() {
		return domain.Signal{}, false
	}
	if q.DateAt(i).Month() == q.DateAt(i+1).Month() {
		return domain.Signal{}, false
	}
	sig, err := domain.NewSignal(q.Symbol, m, r.Tag(), r.at, 0)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// ma: moving average crossover
// ---------------------------------------------------------------------------

// entryMA signals when today's close is above (or below, per op) the nd day
// simple moving average. Days without a full lookback never signal.
type entryMA struct {
	nd int
	op string
	at domain.Timing
}

var _ EntryRule = (*entryMA)(nil)

func newEntryMA(p Params) (EntryRule, error) {
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
	at, err := p.StrOr("at", "o")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	return &entryMA{nd: nd, op: op, at: timing}, nil
}

func (r *entryMA) Tag() string { return "ma" }

func (r *entryMA) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	sma := q.SMA(r.nd)[i]
	if math.IsNaN(sma) || !compare(r.op, q.CloseAt(i), sma) {
		return domain.Signal{}, false
	}
	sig, err := domain.NewSignal(q.Symbol, m, r.Tag(), r.at, 0)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}

// ---------------------------------------------------------------------------
// breakout: close vs moving average + ATR band
// ---------------------------------------------------------------------------

// entryBreakout signals when today's close is above (or below, per op) the
// ndm day moving average shifted by mpl times the nda day average true range.
type entryBreakout struct {
	ndm int
	nda int
	mpl float64
	op  string
	at  domain.Timing
}

var _ EntryRule = (*entryBreakout)(nil)

func newEntryBreakout(p Params) (EntryRule, error) {
	ndm, err := p.IntOr("ndm", 20)
	if err != nil {
		return nil, err
	}
	nda, err := p.IntOr("nda", 10)
	if err != nil {
		return nil, err
	}
	if ndm < 1 || nda < 1 {
		return nil, fmt.Errorf("%w: ndm = %d, nda = %d, want >= 1", ErrBadParam, ndm, nda)
	}
	mpl, err := p.FloatOr("mpl", 1)
	if err != nil {
		return nil, err
	}
	op, err := p.Op("op")
	if err != nil {
		return nil, err
	}
	at, err := p.StrOr("at", "o")
	if err != nil {
		return nil, err
	}
	timing, err := unconditionalTiming(at)
	if err != nil {
		return nil, err
	}
	return &entryBreakout{ndm: ndm, nda: nda, mpl: mpl, op: op, at: timing}, nil
}

func (r *entryBreakout) Tag() string { return "breakout" }

func (r *entryBreakout) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	sma := q.SMA(r.ndm)[i]
	atr := q.ATR(r.nda)[i]
	band := sma + r.mpl*atr
	if math.IsNaN(band) || !compare(r.op, q.CloseAt(i), band) {
		return domain.Signal{}, false
	}
	sig, err := domain.NewSignal(q.Symbol, m, r.Tag(), r.at, 0)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}
