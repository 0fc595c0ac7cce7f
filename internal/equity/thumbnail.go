package equity

import (
	"fmt"
	"math"
)

// The equity thumbnail is a lossy fixed-width encoding of the curve for
// compact display. Each byte packs a y pixel coordinate in its low 5 bits
// and a line thickness in its high 3 bits. Four header pairs precede the
// columns:
//
//	byte 0: (canvas height - 1, 1)
//	byte 1: (y of the starting equity, 1)
//	byte 2: (y of half the starting equity, present flag)
//	byte 3: (y of double the starting equity, present flag)
//	bytes 4..width+4: (y of the column top, thickness down, max 7)
//
// The y scale is logarithmic so halving and doubling are equidistant.

// ErrThumbnailRange is returned when a coordinate does not fit its bit field.
var ErrThumbnailRange = fmt.Errorf("thumbnail coordinate out of range")

// Coord is one (y, thickness) pair before packing.
type Coord struct {
	Y  int // 5 bits: 0..31
	DY int // 3 bits: 0..7
}

// Compress packs coordinate pairs into bytes, 5 bits + 3 bits each.
func Compress(coords []Coord) ([]byte, error) {
	out := make([]byte, 0, len(coords))
	for _, c := range coords {
		if c.Y < 0 || c.Y > 31 {
			return nil, fmt.Errorf("%w: y = %d, want 0..31", ErrThumbnailRange, c.Y)
		}
		if c.DY < 0 || c.DY > 7 {
			return nil, fmt.Errorf("%w: dy = %d, want 0..7", ErrThumbnailRange, c.DY)
		}
		out = append(out, byte(c.Y+32*c.DY))
	}
	return out, nil
}

// Decompress unpacks bytes back into coordinate pairs.
func Decompress(data []byte) []Coord {
	out := make([]Coord, 0, len(data))
	for _, b := range data {
		out = append(out, Coord{Y: int(b % 32), DY: int(b / 32)})
	}
	return out
}

// Encode renders the equity totals into width packed columns on a canvas of
// at most 32 pixels height.
func Encode(totals []float64, width, height int) ([]byte, error) {
	if len(totals) == 0 {
		return nil, fmt.Errorf("encode thumbnail: empty series")
	}
	if height > 32 {
		height = 32
	}
	h0 := height - 1
	low := math.Log(math.Max(0.1, minOf(totals)))
	high := math.Log(maxOf(totals))
	if high == low {
		high *= 1.1
		low *= 0.9
	}
	yFactor := float64(h0) / (high - low)
	yPix := func(v float64) int {
		return h0 - int(yFactor*(math.Log(v)-low))
	}

	start := totals[0]
	halfT := Coord{yPix(start / 2), 1}
	if halfT.Y > 0 {
		halfT = Coord{0, 0}
	}
	doubleT := Coord{yPix(start * 2), 1}
	if doubleT.Y < h0 {
		doubleT = Coord{h0, 0}
	}
	coords := []Coord{{h0, 1}, {yPix(start), 1}, halfT, doubleT}

	nTot := len(totals)
	onePixel := nTot / width
	for x := 0; x < width; x++ {
		xStart := nTot * x / width
		var yMin, yMax float64
		if onePixel == 0 {
			yMin = math.Log(totals[xStart])
			yMax = yMin
		} else {
			window := totals[xStart : xStart+onePixel]
			yMin = math.Log(math.Max(0.1, minOf(window)))
			yMax = math.Log(math.Max(0.1, maxOf(window)))
		}
		yBottom := h0 - int(yFactor*(yMin-low))
		yTop := h0 - int(yFactor*(yMax-low))
		dy := yBottom - yTop
		if dy > 7 {
			dy = 7
		}
		coords = append(coords, Coord{yTop, dy})
	}
	return Compress(coords)
}

// Thumbnail is a decoded equity thumbnail.
type Thumbnail struct {
	Width   int
	Height  int
	StartY  int
	Half    Coord // Y meaningful only when DY (present flag) is 1
	Double  Coord
	Columns []Coord
}

// Decode is the inverse of Encode up to the lossy column sampling.
func Decode(data []byte) (Thumbnail, error) {
	if len(data) < 4 {
		return Thumbnail{}, fmt.Errorf("decode thumbnail: %d bytes, want at least 4", len(data))
	}
	coords := Decompress(data)
	return Thumbnail{
		Width:   len(coords) - 4,
		Height:  coords[0].Y + 1,
		StartY:  coords[1].Y,
		Half:    coords[2],
		Double:  coords[3],
		Columns: coords[4:],
	}, nil
}
