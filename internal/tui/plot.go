package tui

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/reflweb/internal/instrument"
)

// textRenderer summarizes plottables as plain text.
type textRenderer struct {
	b strings.Builder
}

func (r *textRenderer) Render1D(p instrument.Plot1D) error {
	fmt.Fprintf(&r.b, "%s vs %s", p.YAxis.Label, p.XAxis.Label)
	if p.YAxis.Transform != "" {
		fmt.Fprintf(&r.b, " [%s]", p.YAxis.Transform)
	}
	r.b.WriteString("\n")
	for _, s := range p.Series {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, pt := range s.Points {
			lo, hi = math.Min(lo, pt.X), math.Max(hi, pt.X)
		}
		if len(s.Points) == 0 {
			fmt.Fprintf(&r.b, "  %s: no points\n", s.Label)
			continue
		}
		fmt.Fprintf(&r.b, "  %s: %d points, x %g..%g\n", s.Label, len(s.Points), lo, hi)
	}
	return nil
}

func (r *textRenderer) Render2D(p instrument.Plot2D) error {
	cols := 0
	if len(p.Z) > 0 {
		cols = len(p.Z[0])
	}
	fmt.Fprintf(&r.b, "%s vs %s: %dx%d grid, x %g..%g, y %g..%g\n",
		p.YAxis.Label, p.XAxis.Label, len(p.Z), cols, p.XMin, p.XMax, p.YMin, p.YMax)
	return nil
}

func (r *textRenderer) RenderParams(p instrument.Params) error {
	for _, v := range p.Values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("tui: params: %w", err)
		}
		r.b.Write(encoded)
		r.b.WriteString("\n")
	}
	return nil
}

func (r *textRenderer) String() string {
	return strings.TrimRight(r.b.String(), "\n")
}
