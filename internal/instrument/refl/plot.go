// Package refl is the plug-in for the NCNR reflectometry instrument.
package refl

import (
	"fmt"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/ranges"
)

// Datatypes produced by the reflectometry modules.
const (
	DatatypeReflData  = "ncnr.refl.refldata"
	DatatypeFootprint = "ncnr.refl.footprint.params"
	DatatypeDeadtime  = "ncnr.refl.deadtime"
	DatatypePolData   = "ncnr.refl.poldata"
)

// Plot turns a result into a plottable. refldata becomes a 1d plot, the
// parameter datatypes a params table; anything else has no plot.
func Plot(res *calc.Result) (instrument.Plottable, error) {
	if res == nil {
		return nil, nil
	}
	switch res.Datatype {
	case DatatypeReflData:
		entries, err := res.Metadata()
		if err != nil {
			return nil, err
		}
		return plotRefl(entries)
	case DatatypeFootprint, DatatypeDeadtime, DatatypePolData:
		values, err := res.Metadata()
		if err != nil {
			return nil, err
		}
		return instrument.Params{Values: values}, nil
	default:
		return nil, nil
	}
}

func plotRefl(entries []map[string]any) (instrument.Plot1D, error) {
	plot := instrument.Plot1D{
		XAxis: instrument.Axis{Label: "x-axis"},
		YAxis: instrument.Axis{Label: "y-axis"},
	}
	for idx, entry := range entries {
		xs, err := column(entry, "x")
		if err != nil {
			return instrument.Plot1D{}, fmt.Errorf("refl: entry %d: %w", idx, err)
		}
		ys, err := column(entry, "v")
		if err != nil {
			return instrument.Plot1D{}, fmt.Errorf("refl: entry %d: %w", idx, err)
		}
		dys, _ := column(entry, "dv")

		// Axis labels and scales follow the last entry.
		plot.YAxis = instrument.Axis{
			Label:     fmt.Sprintf("%s(%s)", text(entry, "vlabel"), text(entry, "vunits")),
			Transform: text(entry, "vscale"),
		}
		plot.XAxis = instrument.Axis{
			Label:     fmt.Sprintf("%s(%s)", text(entry, "xlabel"), text(entry, "xunits")),
			Transform: text(entry, "xscale"),
		}

		n := max(len(xs), len(ys))
		points := make([]instrument.Point, n)
		var x, y, dy float64
		for i := 0; i < n; i++ {
			// Shorter columns repeat their last value.
			if i < len(xs) {
				x = xs[i]
			}
			if i < len(ys) {
				y = ys[i]
			}
			if i < len(dys) {
				dy = dys[i]
			}
			points[i] = instrument.Point{X: x, Y: y, YUpper: y + dy, YLower: y - dy, XUpper: x, XLower: x}
		}
		plot.Series = append(plot.Series, instrument.Series{
			Label:  fmt.Sprintf("%s:%s", text(entry, "name"), text(entry, "entry")),
			Points: points,
		})
	}
	return plot, nil
}

func column(entry map[string]any, path string) ([]float64, error) {
	raw, ok := ranges.Lookup(entry, path)
	if !ok || raw == nil {
		return nil, fmt.Errorf("missing column %q", path)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("column %q is %T, not a list", path, raw)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("column %q holds %T", path, item)
		}
		out = append(out, f)
	}
	return out, nil
}

func text(entry map[string]any, path string) string {
	raw, ok := ranges.Lookup(entry, path)
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
