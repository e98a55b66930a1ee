package ranges

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/template"
)

const (
	// PropagateLevels is how many ancestor levels receive a leaf's extent.
	PropagateLevels = 2
	// DefaultAxis is the entry field holding the primary axis values.
	DefaultAxis = "x"
)

// Node attributes written by the engine.
const (
	AttrXMin      = "xmin"
	AttrXMax      = "xmax"
	AttrIndicator = "range"
	AttrRangeSVG  = "range_svg"
)

// Loader fetches metadata for each file ref in noblock mode, returning one
// outcome per ref in order.
type Loader func(ctx context.Context, refs []template.FileRef, noblock bool) ([]calc.Outcome, error)

// Leaf is an eligible tree leaf.
type Leaf struct {
	ID        string
	Ref       template.FileRef
	EntryName string
}

// Eligible extracts leaf identity. Leaves missing any of source, filename,
// entryname or mtime are not eligible.
func Eligible(n filetree.Node) (Leaf, bool) {
	source, okSource := n.Attrs["source"].(string)
	filename, okFile := n.Attrs["filename"].(string)
	entry, okEntry := n.Attrs["entryname"].(string)
	mtime, okMtime := toInt64(n.Attrs["mtime"])
	if !okSource || !okFile || !okEntry || !okMtime {
		return Leaf{}, false
	}
	return Leaf{
		ID:        n.ID,
		Ref:       template.FileRef{Source: source, Path: filename, Mtime: mtime},
		EntryName: entry,
	}, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// Report summarizes one decoration run.
type Report struct {
	Eligible    int
	Decorated   int
	Unmatched   int
	Failed      int
	MissingAxis int
	Indicated   int
}

// Engine decorates a file tree with axis ranges.
type Engine struct {
	load   Loader
	axis   string
	levels int
	log    *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithAxis sets the axis path (default "x").
func WithAxis(axis string) Option {
	return func(e *Engine) {
		if axis != "" {
			e.axis = axis
		}
	}
}

// WithLevels overrides how many ancestor levels are widened.
func WithLevels(levels int) Option {
	return func(e *Engine) {
		if levels >= 0 {
			e.levels = levels
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = logging.OrNop(l)
	}
}

// New returns an engine loading leaf data through load.
func New(load Loader, opts ...Option) *Engine {
	e := &Engine{load: load, axis: DefaultAxis, levels: PropagateLevels, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decorate loads every eligible leaf, aggregates extents up the tree and
// then, once all aggregates are final, adds range indicators. Per-leaf
// failures are logged and skipped; only a failed batch or tree write aborts.
func (e *Engine) Decorate(ctx context.Context, tree filetree.Tree) (Report, error) {
	var report Report
	var leaves []Leaf
	for _, n := range tree.FlatLeaves() {
		if leaf, ok := Eligible(n); ok {
			leaves = append(leaves, leaf)
		}
	}
	report.Eligible = len(leaves)
	if len(leaves) == 0 {
		return report, nil
	}
	refs := make([]template.FileRef, len(leaves))
	for i, leaf := range leaves {
		refs[i] = leaf.Ref
	}
	outcomes, err := e.load(ctx, refs, true)
	if err != nil {
		return report, fmt.Errorf("ranges: load leaves: %w", err)
	}
	if len(outcomes) != len(leaves) {
		return report, fmt.Errorf("ranges: loader returned %d outcomes for %d leaves", len(outcomes), len(leaves))
	}

	agg := NewAggregator()
	for i, leaf := range leaves {
		ext, status := e.leafExtent(leaf, outcomes[i])
		switch status {
		case leafFailed:
			report.Failed++
			continue
		case leafMissingAxis:
			report.MissingAxis++
			continue
		case leafUnmatched:
			report.Unmatched++
			continue
		case leafEmpty:
			continue
		}
		agg.Contribute(e.path(tree, leaf.ID), ext)
		report.Decorated++
	}

	for _, id := range agg.IDs() {
		ext, _ := agg.Extent(id)
		if err := tree.SetNodeAttr(id, map[string]any{AttrXMin: ext.Min, AttrXMax: ext.Max}); err != nil {
			return report, fmt.Errorf("ranges: write extent: %w", err)
		}
	}

	// Indicators need the parent's final aggregate, so they are rendered
	// only after every contribution has landed.
	for _, id := range agg.IDs() {
		parentID, ok := tree.Parent(id)
		if !ok {
			continue
		}
		parent, ok := agg.Extent(parentID)
		if !ok {
			continue
		}
		own, _ := agg.Extent(id)
		ind := NewIndicator(parent, own)
		if err := tree.SetNodeAttr(id, map[string]any{AttrIndicator: ind, AttrRangeSVG: ind.SVG()}); err != nil {
			return report, fmt.Errorf("ranges: write indicator: %w", err)
		}
		report.Indicated++
	}
	return report, nil
}

type leafStatus int

const (
	leafOK leafStatus = iota
	leafFailed
	leafUnmatched
	leafMissingAxis
	leafEmpty
)

func (e *Engine) leafExtent(leaf Leaf, o calc.Outcome) (Extent, leafStatus) {
	if o.Err != nil {
		e.log.Warn("leaf load failed", zap.String("leaf", leaf.ID), zap.String("path", leaf.Ref.Path), zap.Error(o.Err))
		return Extent{}, leafFailed
	}
	entry, err := MatchEntry(o.Result, leaf.EntryName)
	if err != nil {
		e.log.Warn("leaf metadata unreadable", zap.String("leaf", leaf.ID), zap.Error(err))
		return Extent{}, leafFailed
	}
	if entry == nil {
		return Extent{}, leafUnmatched
	}
	ext, ok, err := AxisExtent(entry, e.axis)
	if err != nil {
		if errors.Is(err, ErrMissingAxis) {
			e.log.Warn("leaf skipped", zap.String("leaf", leaf.ID), zap.Any("intent", entry["intent"]), zap.Error(err))
			return Extent{}, leafMissingAxis
		}
		return Extent{}, leafFailed
	}
	if !ok {
		return Extent{}, leafEmpty
	}
	return ext, leafOK
}

// path returns the leaf followed by up to e.levels ancestors.
func (e *Engine) path(tree filetree.Tree, leafID string) []string {
	path := []string{leafID}
	cur := leafID
	for i := 0; i < e.levels; i++ {
		parent, ok := tree.Parent(cur)
		if !ok {
			break
		}
		path = append(path, parent)
		cur = parent
	}
	return path
}

// MatchEntry returns the first metadata value whose "entry" equals name, or
// nil when none does.
func MatchEntry(res *calc.Result, name string) (map[string]any, error) {
	if res == nil {
		return nil, nil
	}
	values, err := res.Metadata()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if entry, ok := v["entry"].(string); ok && entry == name {
			return v, nil
		}
	}
	return nil, nil
}
