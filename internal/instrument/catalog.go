// Package instrument holds instrument plug-ins: plot transforms, file
// categorizers, loaders and tree decorators, registered per instrument id.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/template"
)

// ErrNoPlugin is returned when no plug-in is registered for an instrument.
var ErrNoPlugin = errors.New("no instrument plug-in")

// PlotFunc transforms a result into a plottable. A nil plottable means the
// datatype has no plot.
type PlotFunc func(res *calc.Result) (Plottable, error)

// Decorator is a side-effecting annotation pass over the file tree.
type Decorator struct {
	Name string
	Run  func(ctx context.Context, tree filetree.Tree) error
}

// LoadFunc loads remote files, one outcome per ref.
type LoadFunc func(ctx context.Context, refs []template.FileRef, noblock bool) ([]calc.Outcome, error)

// EntriesFunc turns loaded files into tree entries. outcomes pairs with refs.
type EntriesFunc func(refs []template.FileRef, outcomes []calc.Outcome) ([]filetree.Entry, error)

// Plugin is one instrument's registration.
type Plugin struct {
	ID           string
	Plot         PlotFunc
	Categorizers []filetree.Categorizer
	Decorators   []Decorator
	LoadFile     LoadFunc
	TreeEntries  EntriesFunc
}

// Catalog maps instrument ids to plug-ins.
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{plugins: map[string]Plugin{}}
}

// Register adds a plug-in. Each instrument id may be registered once.
func (c *Catalog) Register(p Plugin) error {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return fmt.Errorf("instrument: plug-in id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.plugins[id]; exists {
		return fmt.Errorf("instrument: %s already registered", id)
	}
	c.plugins[id] = p
	return nil
}

// Lookup returns the plug-in for an instrument id.
func (c *Catalog) Lookup(id string) (Plugin, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	if !ok {
		return Plugin{}, fmt.Errorf("instrument: %s: %w", id, ErrNoPlugin)
	}
	return p, nil
}

// IDs returns the registered instrument ids in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.plugins))
	for id := range c.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch runs the instrument's plot transform on res and hands the output
// to the matching renderer method. Nil results, nil transform output and
// unrecognized plottables render nothing and return an empty kind.
func Dispatch(res *calc.Result, p Plugin, r Renderer) (Kind, error) {
	if res == nil || p.Plot == nil {
		return "", nil
	}
	plot, err := p.Plot(res)
	if err != nil {
		return "", fmt.Errorf("instrument: %s plot: %w", p.ID, err)
	}
	switch v := plot.(type) {
	case Plot1D:
		return Kind1D, r.Render1D(v)
	case *Plot1D:
		if v == nil {
			return "", nil
		}
		return Kind1D, r.Render1D(*v)
	case Plot2D:
		return Kind2D, r.Render2D(v)
	case *Plot2D:
		if v == nil {
			return "", nil
		}
		return Kind2D, r.Render2D(*v)
	case Params:
		return KindParams, r.RenderParams(v)
	case *Params:
		if v == nil {
			return "", nil
		}
		return KindParams, r.RenderParams(*v)
	default:
		return "", nil
	}
}

// Decorate runs the plug-in's decorators in order. A failing decorator is
// logged and does not stop later ones; the failures are returned joined.
func Decorate(ctx context.Context, p Plugin, tree filetree.Tree, log *zap.Logger) error {
	log = logging.OrNop(log)
	var errs []error
	for _, d := range p.Decorators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Run(ctx, tree); err != nil {
			log.Warn("decorator failed", zap.String("instrument", p.ID), zap.String("decorator", d.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("instrument: %s decorator %s: %w", p.ID, d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// BuildTree loads refs in noblock mode and groups them with the plug-in's
// categorizers. Files that fail to load are logged and left out by the
// plug-in's entry function.
func BuildTree(ctx context.Context, p Plugin, refs []template.FileRef, log *zap.Logger) (*filetree.Memory, error) {
	if p.LoadFile == nil || p.TreeEntries == nil {
		return nil, fmt.Errorf("instrument: %s cannot build a file tree", p.ID)
	}
	log = logging.OrNop(log)
	outcomes, err := p.LoadFile(ctx, refs, true)
	if err != nil {
		return nil, fmt.Errorf("instrument: %s load: %w", p.ID, err)
	}
	if failed := calc.Failures(outcomes); failed > 0 {
		log.Warn("some files failed to load", zap.String("instrument", p.ID), zap.Int("failed", failed), zap.Int("total", len(refs)))
	}
	entries, err := p.TreeEntries(refs, outcomes)
	if err != nil {
		return nil, fmt.Errorf("instrument: %s entries: %w", p.ID, err)
	}
	return filetree.Build(entries, p.Categorizers)
}
