package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/reflweb/internal/template"
)

var (
	// ErrUnknownInstrument is returned when the definition source has no
	// instrument with the requested id.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrUnknownModule is returned when the loaded instrument does not declare
	// the requested module. The module stays unconfigurable but the session
	// carries on.
	ErrUnknownModule = errors.New("unknown module")
)

// Source fetches instrument definitions.
type Source interface {
	Instrument(ctx context.Context, instrumentID string) (InstrumentDef, error)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context, instrumentID string) (InstrumentDef, error)

// Instrument calls f.
func (f SourceFunc) Instrument(ctx context.Context, instrumentID string) (InstrumentDef, error) {
	return f(ctx, instrumentID)
}

// Registry maps module ids to definitions for the currently loaded
// instrument. The mapping is replaced wholesale by LoadInstrument.
type Registry struct {
	source Source

	mu           sync.RWMutex
	instrumentID string
	defs         map[string]ModuleDef
	templates    map[string]template.Template
}

// New returns an empty registry backed by source.
func New(source Source) *Registry {
	return &Registry{source: source, defs: map[string]ModuleDef{}}
}

// LoadInstrument fetches the instrument definition and replaces the current
// mapping. On error the previous mapping is kept.
func (r *Registry) LoadInstrument(ctx context.Context, instrumentID string) error {
	if r.source == nil {
		return fmt.Errorf("registry: definition source is required")
	}
	def, err := r.source.Instrument(ctx, instrumentID)
	if err != nil {
		if errors.Is(err, ErrUnknownInstrument) {
			return fmt.Errorf("registry: %s: %w", instrumentID, err)
		}
		return fmt.Errorf("registry: load %s: %w", instrumentID, err)
	}
	if def.ID == "" {
		def.ID = instrumentID
	}
	if err := def.Validate(); err != nil {
		return err
	}
	defs := make(map[string]ModuleDef, len(def.Modules))
	for _, m := range def.Modules {
		defs[m.ID] = m
	}
	templates := make(map[string]template.Template, len(def.Templates))
	for name, t := range def.Templates {
		templates[name] = t.Clone()
	}
	r.mu.Lock()
	r.instrumentID = def.ID
	r.defs = defs
	r.templates = templates
	r.mu.Unlock()
	return nil
}

// InstrumentID returns the id of the loaded instrument.
func (r *Registry) InstrumentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instrumentID
}

// ModuleDef looks up a module definition.
func (r *Registry) ModuleDef(moduleID string) (ModuleDef, error) {
	r.mu.RLock()
	def, ok := r.defs[moduleID]
	instrument := r.instrumentID
	r.mu.RUnlock()
	if !ok {
		return ModuleDef{}, fmt.Errorf("registry: %s not supported by instrument %q: %w", moduleID, instrument, ErrUnknownModule)
	}
	return def, nil
}

// Terminals satisfies template.TerminalLookup.
func (r *Registry) Terminals(moduleID string) ([]string, []string, bool) {
	r.mu.RLock()
	def, ok := r.defs[moduleID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	inputs := make([]string, len(def.Inputs))
	for i, term := range def.Inputs {
		inputs[i] = term.ID
	}
	outputs := make([]string, len(def.Outputs))
	for i, term := range def.Outputs {
		outputs[i] = term.ID
	}
	return inputs, outputs, true
}

// ModuleIDs returns the sorted ids of all loaded module definitions.
func (r *Registry) ModuleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TemplateNames returns the predefined template names in sorted order.
func (r *Registry) TemplateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template returns a copy of a predefined template.
func (r *Registry) Template(name string) (template.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return template.Template{}, false
	}
	return t.Clone(), true
}

// DefaultTemplate returns the first predefined template by name.
func (r *Registry) DefaultTemplate() (template.Template, bool) {
	names := r.TemplateNames()
	if len(names) == 0 {
		return template.Template{}, false
	}
	return r.Template(names[0])
}
