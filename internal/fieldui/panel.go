package fieldui

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

// ErrUnknownField is returned for events addressed to a field the panel did
// not render.
var ErrUnknownField = errors.New("unknown field")

// Target is the mount point controls are rendered into.
type Target interface {
	Mount(c Control)
}

// Calculator fetches upstream metadata.
type Calculator interface {
	Calc(ctx context.Context, req calc.Request) (*calc.Result, error)
}

// Panel is the open configuration panel of one module. Its bindings hold
// copies of the template's values; nothing reaches the template until
// Accept.
type Panel struct {
	Index  int
	Module registry.ModuleDef
	// Skipped lists fields whose datatype has no renderer.
	Skipped []string
	// Upstream is the first input's metadata, nil when absent.
	Upstream *calc.Result
	// UpstreamErr records a failed upstream fetch; the panel still opens.
	UpstreamErr error

	bindings  []*Binding
	byID      map[string]*Binding
	fileField string
}

// PanelOption customizes Open.
type PanelOption func(*panelOptions)

type panelOptions struct {
	log *zap.Logger
}

// WithLogger logs contained upstream failures.
func WithLogger(l *zap.Logger) PanelOption {
	return func(o *panelOptions) { o.log = l }
}

// Open renders every field of def for module index of tpl and mounts the
// controls on target. Upstream metadata is fetched from the module's first
// input only when a field needs it; a module with no inputs skips the fetch.
func Open(ctx context.Context, calculator Calculator, tpl template.Template, index int, def registry.ModuleDef, target Target, opts ...PanelOption) (*Panel, error) {
	o := panelOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrNop(o.log)
	if index < 0 || index >= len(tpl.Modules) {
		return nil, fmt.Errorf("fieldui: module index %d out of range", index)
	}
	p := &Panel{Index: index, Module: def, byID: map[string]*Binding{}}

	if needsUpstream(def) && calculator != nil {
		if input, ok := def.FirstInput(); ok {
			res, err := calculator.Calc(ctx, calc.Request{
				Template:   tpl.Clone(),
				Node:       index,
				Terminal:   input,
				ReturnType: calc.ReturnMetadata,
			})
			if err != nil {
				log.Warn("upstream metadata unavailable", zap.Int("module", index), zap.String("terminal", input), zap.Error(err))
				p.UpstreamErr = err
			} else {
				p.Upstream = res
			}
		}
	}

	rc := Context{Template: tpl, Index: index, Module: def, Upstream: p.Upstream}
	for _, f := range def.Fields {
		r, ok := RendererFor(f.Datatype)
		if !ok {
			p.Skipped = append(p.Skipped, f.ID)
			continue
		}
		b := r.Render(f, rc)
		if f.Datatype == registry.DatatypeFileInfo && p.fileField == "" {
			p.fileField = f.ID
			b.Control.Checked = true
		}
		p.bindings = append(p.bindings, b)
		p.byID[f.ID] = b
	}
	if target != nil {
		for _, b := range p.bindings {
			target.Mount(b.Control)
		}
	}
	return p, nil
}

func needsUpstream(def registry.ModuleDef) bool {
	for _, f := range def.Fields {
		if r, ok := RendererFor(f.Datatype); ok && r.NeedsUpstream(f) {
			return true
		}
	}
	return false
}

// Bindings returns the open bindings in field order.
func (p *Panel) Bindings() []*Binding {
	return append([]*Binding(nil), p.bindings...)
}

// Binding returns the binding for a field id.
func (p *Panel) Binding(fieldID string) (*Binding, bool) {
	b, ok := p.byID[fieldID]
	return b, ok
}

// Change routes a control event to its binding.
func (p *Panel) Change(fieldID string, ev Event) error {
	b, ok := p.byID[fieldID]
	if !ok {
		return fmt.Errorf("fieldui: %s: %w", fieldID, ErrUnknownField)
	}
	return b.Handle(ev)
}

// FileField returns the checked file field, if any.
func (p *Panel) FileField() (string, bool) {
	return p.fileField, p.fileField != ""
}

// SelectFileField checks a file field; later file updates go to it.
func (p *Panel) SelectFileField(fieldID string) error {
	b, ok := p.byID[fieldID]
	if !ok || b.Control.Kind != ControlRadio {
		return fmt.Errorf("fieldui: %s is not a file field: %w", fieldID, ErrUnknownField)
	}
	for _, other := range p.bindings {
		if other.Control.Kind == ControlRadio {
			other.Control.Checked = other.ID == fieldID
		}
	}
	p.fileField = fieldID
	return nil
}

// UpdateFileInfo hands a file selection to the checked file field. It is a
// no-op when the module has no file fields.
func (p *Panel) UpdateFileInfo(refs []template.FileRef) error {
	if p.fileField == "" {
		return nil
	}
	return p.Change(p.fileField, Files(refs))
}

// Accept writes every binding's value into the module's config.
func (p *Panel) Accept(tpl *template.Template) error {
	for _, b := range p.bindings {
		if err := tpl.SetModuleConfig(p.Index, b.ID, b.Value()); err != nil {
			return fmt.Errorf("fieldui: accept %s: %w", b.ID, err)
		}
	}
	return nil
}

// Clear drops the module's config so the next Open renders defaults.
func (p *Panel) Clear(tpl *template.Template) error {
	if err := tpl.ClearModuleConfig(p.Index); err != nil {
		return fmt.Errorf("fieldui: clear: %w", err)
	}
	return nil
}
