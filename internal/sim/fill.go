// Package sim contains the daily simulation core: fill resolution, the
// position book, the pending-signal queue and the day loop that drives them.
// A signal generated on day N is executed against day N+1's bar.
package sim

import "backsim/internal/domain"

// Resolve decides whether a signal fills against a bar and at what price.
//
// Unconditional signals always fill, at the open or close. Conditional
// signals depend on which side of the bar the threshold sits: orders that
// buy into weakness (long entry limit, long exit stop, short entry stop,
// short exit limit) fill when the bar's low reaches the threshold, at the
// better of the open and the threshold. The complementary set fills off the
// bar's high. Threshold comparisons are inclusive: a bar that exactly
// touches the threshold fills.
func Resolve(sig domain.Signal, bar domain.Bar, isEntry bool) (float64, bool) {
	switch sig.Timing {
	case domain.AtOpen:
		return bar.Open, true
	case domain.AtClose:
		return bar.Close, true
	}

	buySide := isEntry == (sig.Method.Direction == domain.Long)
	fillsLow := (sig.Timing == domain.AtLimit) == buySide

	if fillsLow {
		if bar.Low <= sig.Price {
			return min(bar.Open, sig.Price), true
		}
		return 0, false
	}
	if bar.High >= sig.Price {
		return max(bar.Open, sig.Price), true
	}
	return 0, false
}
