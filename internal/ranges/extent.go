// Package ranges computes per-leaf axis extents from loaded data, widens
// them up a fixed number of ancestor levels and renders proportional range
// indicators against each node's parent.
package ranges

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// ErrMissingAxis reports an entry whose axis field is structurally absent.
// It is fatal for that leaf only.
var ErrMissingAxis = errors.New("missing axis")

// Extent is a (min, max) pair over a numeric axis.
type Extent struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Widen returns the smallest extent covering both e and o.
func (e Extent) Widen(o Extent) Extent {
	return Extent{Min: math.Min(e.Min, o.Min), Max: math.Max(e.Max, o.Max)}
}

// Span is Max - Min.
func (e Extent) Span() float64 {
	return e.Max - e.Min
}

// Lookup resolves a "/"-separated path inside a decoded JSON object.
func Lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, key := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AxisExtent computes the extent of the values at axis. ok is false when the
// axis holds no numeric values. A missing or null axis returns
// ErrMissingAxis.
func AxisExtent(entry map[string]any, axis string) (Extent, bool, error) {
	raw, found := Lookup(entry, axis)
	if !found || raw == nil {
		return Extent{}, false, fmt.Errorf("ranges: no such axis %q: %w", axis, ErrMissingAxis)
	}
	var values []any
	switch v := raw.(type) {
	case []any:
		values = v
	case []float64:
		values = make([]any, len(v))
		for i, f := range v {
			values[i] = f
		}
	default:
		if _, numeric := toFloat(v); !numeric {
			return Extent{}, false, fmt.Errorf("ranges: axis %q is %T, not a list: %w", axis, raw, ErrMissingAxis)
		}
		values = []any{v}
	}
	var ext Extent
	seen := false
	for _, item := range values {
		f, ok := toFloat(item)
		if !ok || math.IsNaN(f) {
			continue
		}
		if !seen {
			ext, seen = Extent{Min: f, Max: f}, true
			continue
		}
		ext = ext.Widen(Extent{Min: f, Max: f})
	}
	return ext, seen, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Aggregator accumulates extents per node. Contributions only ever widen a
// node's extent, so the final state does not depend on arrival order. Safe
// for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	extents map[string]Extent
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{extents: map[string]Extent{}}
}

// Contribute widens every node on path (leaf first, then ancestors) by e.
// A node's first contribution initializes it.
func (a *Aggregator) Contribute(path []string, e Extent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range path {
		if cur, ok := a.extents[id]; ok {
			a.extents[id] = cur.Widen(e)
			continue
		}
		a.extents[id] = e
	}
}

// Extent returns the aggregate for a node.
func (a *Aggregator) Extent(id string) (Extent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.extents[id]
	return e, ok
}

// IDs returns the ids of all nodes holding an extent, sorted.
func (a *Aggregator) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.extents))
	for id := range a.extents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies the current extents.
func (a *Aggregator) Snapshot() map[string]Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Extent, len(a.extents))
	for id, e := range a.extents {
		out[id] = e
	}
	return out
}
