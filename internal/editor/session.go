// Package editor holds the editing session: the loaded instrument, the
// active template and the operations a front end drives against them.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/fieldui"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

// ErrSuperseded is returned for a terminal result that arrived after a newer
// request for the same node and terminal was started.
var ErrSuperseded = errors.New("superseded by a newer request")

// Deps are the collaborators a session works with.
type Deps struct {
	Source  registry.Source
	Client  *calc.Client
	Catalog *instrument.Catalog
	Logger  *zap.Logger
}

// Session is one open editor. Template edits are expected from a single
// goroutine; terminal fetches may run concurrently with them.
type Session struct {
	ID string

	registry *registry.Registry
	client   *calc.Client
	plugin   instrument.Plugin
	hasPlug  bool
	latest   *calc.Latest
	log      *zap.Logger

	mu       sync.RWMutex
	template template.Template
}

// Open loads the instrument and starts a session on its default template.
// An instrument without a registered plug-in can still be edited; it just
// renders no plots.
func Open(ctx context.Context, deps Deps, instrumentID string) (*Session, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("editor: registry source is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("editor: calculation client is required")
	}
	reg := registry.New(deps.Source)
	if err := reg.LoadInstrument(ctx, instrumentID); err != nil {
		return nil, fmt.Errorf("editor: %w", err)
	}
	s := &Session{
		ID:       uuid.NewString(),
		registry: reg,
		client:   deps.Client,
		latest:   calc.NewLatest(),
	}
	s.log = logging.OrNop(deps.Logger).With(zap.String("session", s.ID), zap.String("instrument", reg.InstrumentID()))
	if deps.Catalog != nil {
		plugin, err := deps.Catalog.Lookup(reg.InstrumentID())
		switch {
		case err == nil:
			s.plugin, s.hasPlug = plugin, true
		case errors.Is(err, instrument.ErrNoPlugin):
			s.log.Info("no instrument plug-in registered")
		default:
			return nil, fmt.Errorf("editor: %w", err)
		}
	}
	if tpl, ok := reg.DefaultTemplate(); ok {
		if err := s.LoadTemplate(tpl); err != nil {
			return nil, err
		}
	}
	s.log.Info("session opened", zap.Strings("templates", reg.TemplateNames()))
	return s, nil
}

// Registry returns the session's module registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Plugin returns the instrument plug-in, if one is registered.
func (s *Session) Plugin() (instrument.Plugin, bool) { return s.plugin, s.hasPlug }

// Template returns a copy of the active template.
func (s *Session) Template() template.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.template.Clone()
}

// LoadTemplate validates tpl against the registry and replaces the active
// template with a copy of it.
func (s *Session) LoadTemplate(tpl template.Template) error {
	if err := tpl.Validate(s.registry); err != nil {
		return fmt.Errorf("editor: %w", err)
	}
	s.mu.Lock()
	s.template = tpl.Clone()
	s.mu.Unlock()
	s.log.Debug("template loaded", zap.String("template", tpl.Name), zap.Int("modules", len(tpl.Modules)))
	return nil
}

// LoadNamedTemplate loads one of the instrument's predefined templates.
func (s *Session) LoadNamedTemplate(name string) error {
	tpl, ok := s.registry.Template(name)
	if !ok {
		return fmt.Errorf("editor: no template %q for %s", name, s.registry.InstrumentID())
	}
	return s.LoadTemplate(tpl)
}

// SetModuleConfig sets one field on one module.
func (s *Session) SetModuleConfig(index int, fieldID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template.SetModuleConfig(index, fieldID, template.CloneValue(value))
}

// ClearModuleConfig drops one module's config.
func (s *Session) ClearModuleConfig(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template.ClearModuleConfig(index)
}

// OpenModule opens the configuration panel for module index. Modules the
// instrument does not define return registry.ErrUnknownModule.
func (s *Session) OpenModule(ctx context.Context, index int, target fieldui.Target) (*fieldui.Panel, error) {
	tpl := s.Template()
	if index < 0 || index >= len(tpl.Modules) {
		return nil, fmt.Errorf("editor: module index %d out of range", index)
	}
	def, err := s.registry.ModuleDef(tpl.Modules[index].Module)
	if err != nil {
		s.log.Warn("module not configurable", zap.Int("module", index), zap.Error(err))
		return nil, fmt.Errorf("editor: %w", err)
	}
	return fieldui.Open(ctx, s.client, tpl, index, def, target, fieldui.WithLogger(s.log))
}

// Accept commits a panel's bindings into the active template.
func (s *Session) Accept(p *fieldui.Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Accept(&s.template)
}

// Clear drops the config of the panel's module.
func (s *Session) Clear(p *fieldui.Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Clear(&s.template)
}

// FetchTerminal requests metadata for one terminal of the active template.
// If another fetch for the same node and terminal started in the meantime,
// the result is dropped and ErrSuperseded returned.
func (s *Session) FetchTerminal(ctx context.Context, node int, terminal string) (*calc.Result, error) {
	req := calc.Request{
		Template:   s.Template(),
		Node:       node,
		Terminal:   terminal,
		ReturnType: calc.ReturnMetadata,
	}
	target := req.Target()
	gen := s.latest.Start(target)
	res, err := s.client.Calc(ctx, req)
	if !s.latest.Current(target, gen) {
		s.log.Debug("stale terminal result dropped", zap.String("target", target), zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, fmt.Errorf("editor: %w", err)
	}
	return res, nil
}

// Render hands a result to the instrument's plot transform and renderer.
func (s *Session) Render(res *calc.Result, r instrument.Renderer) (instrument.Kind, error) {
	if !s.hasPlug {
		return "", nil
	}
	return instrument.Dispatch(res, s.plugin, r)
}

// ShowTerminal fetches a terminal and renders it.
func (s *Session) ShowTerminal(ctx context.Context, node int, terminal string, r instrument.Renderer) (instrument.Kind, error) {
	res, err := s.FetchTerminal(ctx, node, terminal)
	if err != nil {
		return "", err
	}
	return s.Render(res, r)
}

// Export computes the export payload for an explicit node and terminal.
func (s *Session) Export(ctx context.Context, node int, terminal string) (string, error) {
	res, err := s.client.Calc(ctx, calc.Request{
		Template:   s.Template(),
		Node:       node,
		Terminal:   terminal,
		ReturnType: calc.ReturnExport,
	})
	if err != nil {
		return "", fmt.Errorf("editor: export: %w", err)
	}
	return res.Export()
}

// Decorate runs the instrument's tree decorators in order.
func (s *Session) Decorate(ctx context.Context, tree filetree.Tree) error {
	if !s.hasPlug {
		return fmt.Errorf("editor: %s: %w", s.registry.InstrumentID(), instrument.ErrNoPlugin)
	}
	return instrument.Decorate(ctx, s.plugin, tree, s.log)
}
