package price

import "math"

// Channel is a trend channel fitted to a lookback window: the tightest pair
// of parallel lines (in log space) that encloses the highs and lows.
type Channel struct {
	Angle  float64 // slope of the trend lines in % per year
	Width  float64 // vertical width in %
	Bottom float64 // bottom line value at the window's last bar
}

// Standard channel lookbacks in trading days.
const (
	ChannelMonth     = 21
	ChannelSixWeeks  = 31
	ChannelTwoMonths = 42
	ChannelQuarter   = 63
	ChannelSixMonths = 126
	ChannelYear      = 252
)

// ChannelLookbacks are the lookbacks precomputed for ranking.
var ChannelLookbacks = []int{
	ChannelMonth, ChannelSixWeeks, ChannelTwoMonths,
	ChannelQuarter, ChannelSixMonths, ChannelYear,
}

// Valid reports whether the channel was computed (enough history).
func (c Channel) Valid() bool { return !math.IsNaN(c.Angle) }

// Top returns the top line value at the window's last bar.
func (c Channel) Top() float64 { return c.Bottom * (c.Width/100 + 1) }

// Quality is the steepness-per-width score used for ranking.
func (c Channel) Quality() float64 {
	if c.Width == 0 {
		if c.Angle == 0 {
			return 0
		}
		return math.NaN()
	}
	return c.Angle / c.Width
}

// QualityN is Quality normalised across lookbacks, so channels of different
// lengths are comparable: angle scaled by lookback/year, width by
// sqrt(year/lookback).
func (c Channel) QualityN(lookback int) float64 {
	angleN := c.Angle * float64(lookback) / ChannelYear
	widthN := c.Width * math.Sqrt(float64(ChannelYear)/float64(lookback))
	if widthN == 0 {
		if angleN == 0 {
			return 0
		}
		return math.NaN()
	}
	return angleN / widthN
}

var invalidChannel = Channel{Angle: math.NaN(), Width: math.NaN(), Bottom: math.NaN()}

// Channels returns the fitted channel for every quote date, using a window
// of lookback bars ending at that date. Dates with fewer than lookback+1
// prior bars get an invalid channel. Cached per lookback.
func (q *Quotes) Channels(lookback int) []Channel {
	if cached, ok := q.channels[lookback]; ok {
		return cached
	}
	out := make([]Channel, len(q.closes))
	logLows := make([]float64, len(q.lows))
	logHighs := make([]float64, len(q.highs))
	for i := range q.lows {
		logLows[i] = math.Log10(q.lows[i])
		logHighs[i] = math.Log10(q.highs[i])
	}
	for i := range out {
		if i < lookback {
			out[i] = invalidChannel
			continue
		}
		a, w, b := fitChannel(logLows[i-lookback+1:i+1], logHighs[i-lookback+1:i+1])
		out[i] = Channel{
			Angle:  100 * (math.Pow(math.Pow(10, a), ChannelYear) - 1),
			Width:  100 * (math.Pow(10, w) - 1),
			Bottom: math.Pow(10, b),
		}
	}
	q.channels[lookback] = out
	return out
}

// fitChannel finds the tightest channel enclosing the (log) lows and highs:
// rotate the point cloud until the extreme low and extreme high windows
// overlap, stepping to the next pivot angle each iteration.
func fitChannel(lows, highs []float64) (angle, width, bottom float64) {
	var lowAngle, highAngle, current float64
	for {
		lowIdx := minIndices(rotated(lows, current))
		highIdx := maxIndices(rotated(highs, current))
		switch {
		case highIdx[0] > lowIdx[len(lowIdx)-1]:
			// rotate up
			switch {
			case lowAngle < highAngle:
				current = lowAngle
				lowAngle = minAlphaRight(lows, lowIdx[len(lowIdx)-1])
			case lowAngle > highAngle:
				current = highAngle
				highAngle = minAlphaLeft(highs, highIdx[0])
			default:
				current = lowAngle
				lowAngle = minAlphaRight(lows, lowIdx[len(lowIdx)-1])
				highAngle = minAlphaLeft(highs, highIdx[0])
			}
		case highIdx[len(highIdx)-1] < lowIdx[0]:
			// rotate down
			switch {
			case lowAngle > highAngle:
				current = lowAngle
				lowAngle = maxAlphaLeft(lows, lowIdx[0])
			case lowAngle < highAngle:
				current = highAngle
				highAngle = maxAlphaRight(highs, highIdx[len(highIdx)-1])
			default:
				current = lowAngle
				lowAngle = maxAlphaLeft(lows, lowIdx[0])
				highAngle = maxAlphaRight(highs, highIdx[len(highIdx)-1])
			}
		default:
			il, ih := lowIdx[0], highIdx[0]
			width = highs[ih] - lows[il] - float64(ih-il)*current
			bottom = lows[il] + current*float64(len(lows)-(il+1))
			return current, width, bottom
		}
	}
}

// rotated shifts each value so a line with the given slope through index 0
// becomes horizontal.
func rotated(values []float64, angle float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - float64(i)*angle
	}
	return out
}

const channelEps = 1e-6

func minIndices(values []float64) []int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	var out []int
	for i, v := range values {
		if math.Abs(v-m) < channelEps {
			out = append(out, i)
		}
	}
	return out
}

func maxIndices(values []float64) []int {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	var out []int
	for i, v := range values {
		if math.Abs(v-m) < channelEps {
			out = append(out, i)
		}
	}
	return out
}

// minAlphaLeft returns the smallest pivot angle to a point left of pivot,
// or +Inf when the pivot is the leftmost point.
func minAlphaLeft(values []float64, pivot int) float64 {
	m := math.Inf(1)
	for i := 0; i < pivot; i++ {
		a := (values[pivot] - values[i]) / float64(pivot-i)
		if a < m {
			m = a
		}
	}
	return m
}

func maxAlphaLeft(values []float64, pivot int) float64 {
	m := math.Inf(-1)
	for i := 0; i < pivot; i++ {
		a := (values[pivot] - values[i]) / float64(pivot-i)
		if a > m {
			m = a
		}
	}
	return m
}

// minAlphaRight returns the smallest pivot angle to a point right of pivot,
// or +Inf when the pivot is the rightmost point.
func minAlphaRight(values []float64, pivot int) float64 {
	m := math.Inf(1)
	for i := pivot + 1; i < len(values); i++ {
		a := (values[i] - values[pivot]) / float64(i-pivot)
		if a < m {
			m = a
		}
	}
	return m
}

func maxAlphaRight(values []float64, pivot int) float64 {
	m := math.Inf(-1)
	for i := pivot + 1; i < len(values); i++ {
		a := (values[i] - values[pivot]) / float64(i-pivot)
		if a > m {
			m = a
		}
	}
	return m
}
