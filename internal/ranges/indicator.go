package ranges

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IndicatorWidth is the width of the range bar in pixels.
const IndicatorWidth = 75.0

// Indicator is a node's extent placed on its parent's extent: a filled
// segment at X with the given Width inside a bar IndicatorWidth wide.
type Indicator struct {
	X     float64 `json:"x"`
	Width float64 `json:"width"`
}

// NewIndicator normalizes own against parent. A parent with zero span fills
// the whole bar.
func NewIndicator(parent, own Extent) Indicator {
	span := parent.Span()
	if span == 0 {
		return Indicator{X: 0, Width: IndicatorWidth}
	}
	return Indicator{
		X:     IndicatorWidth * math.Abs((own.Min-parent.Min)/span),
		Width: IndicatorWidth * math.Abs(own.Span()/span),
	}
}

// SVG renders the indicator as inline SVG markup.
func (ind Indicator) SVG() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg class="range" width="%s" height="12">`, num(IndicatorWidth+2))
	fmt.Fprintf(&b, `<rect width="%s" height="10" x="%s" style="fill:IndianRed;stroke:none"/>`, num(ind.Width), num(ind.X))
	fmt.Fprintf(&b, `<rect width="%s" height="10" style="fill:none;stroke:black;stroke-width:1"/>`, num(IndicatorWidth))
	b.WriteString(`</svg>`)
	return b.String()
}

// Bar renders the indicator as a text bar of the given number of cells.
// Any non-zero segment occupies at least one cell.
func (ind Indicator) Bar(cells int) string {
	if cells <= 0 {
		return ""
	}
	n := float64(cells)
	start := int(math.Floor(ind.X * n / IndicatorWidth))
	end := int(math.Ceil((ind.X + ind.Width) * n / IndicatorWidth))
	if end <= start && ind.Width > 0 {
		end = start + 1
	}
	start = clamp(start, 0, cells)
	end = clamp(end, start, cells)
	return strings.Repeat("·", start) + strings.Repeat("█", end-start) + strings.Repeat("·", cells-end)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
