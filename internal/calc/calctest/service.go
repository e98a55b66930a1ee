// Package calctest provides an in-memory evaluation service for tests.
package calctest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/template"
)

// ModuleFunc computes a module's output values from its effective config and
// the values arriving on each wired input terminal.
type ModuleFunc func(cfg template.ModuleConfig, inputs map[string][]any) ([]any, error)

// Service evaluates templates in memory. A requested terminal that is the
// target of a wire is treated as an input and resolved by evaluating the
// source module; anything else is the module's output. Modules without a
// registered ModuleFunc emit {"module": id, "config": cfg} and pass inputs
// through.
type Service struct {
	Modules  map[string]ModuleFunc
	Datatype string
	// Fail maps calc.TargetKey(node, terminal) to a diagnostic message.
	Fail map[string]string
	// Gate, when set, runs before each evaluation; tests use it to hold
	// requests or reorder completions.
	Gate func(ctx context.Context, req calc.Request) error

	mu       sync.Mutex
	requests []calc.Request
}

// New returns a service with the given module functions.
func New(modules map[string]ModuleFunc) *Service {
	if modules == nil {
		modules = map[string]ModuleFunc{}
	}
	return &Service{Modules: modules, Datatype: "test", Fail: map[string]string{}}
}

// Calls returns how many requests reached the service.
func (s *Service) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the received requests.
func (s *Service) Requests() []calc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calc.Request(nil), s.requests...)
}

// CalcTerminal satisfies calc.Service.
func (s *Service) CalcTerminal(ctx context.Context, req calc.Request) (*calc.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	failure, failing := s.Fail[req.Target()]
	s.mu.Unlock()
	if s.Gate != nil {
		if err := s.Gate(ctx, req); err != nil {
			return nil, err
		}
	}
	if failing {
		return nil, &calc.EvaluationError{Node: req.Node, Terminal: req.Terminal, Message: failure}
	}
	values, err := s.resolve(req, req.Node, req.Terminal, 0)
	if err != nil {
		return nil, &calc.EvaluationError{Node: req.Node, Terminal: req.Terminal, Message: err.Error()}
	}
	resp := &calc.Response{Datatype: s.Datatype, Values: make([]json.RawMessage, 0, len(values))}
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("calctest: encode value: %w", err)
		}
		resp.Values = append(resp.Values, raw)
	}
	return resp, nil
}

func (s *Service) resolve(req calc.Request, node int, terminal string, depth int) ([]any, error) {
	if depth > len(req.Template.Modules) {
		return nil, fmt.Errorf("cycle through module %d", node)
	}
	if sources := req.Template.SourcesOf(node, terminal); len(sources) > 0 {
		var values []any
		for _, src := range sources {
			out, err := s.resolve(req, src.Module, src.Terminal, depth+1)
			if err != nil {
				return nil, err
			}
			values = append(values, out...)
		}
		return values, nil
	}
	inputs := map[string][]any{}
	for _, w := range req.Template.Wires {
		if w.Target.Module != node {
			continue
		}
		if _, done := inputs[w.Target.Terminal]; done {
			continue
		}
		values, err := s.resolve(req, node, w.Target.Terminal, depth+1)
		if err != nil {
			return nil, err
		}
		inputs[w.Target.Terminal] = values
	}
	m := req.Template.Modules[node]
	cfg := effectiveConfig(m.Config, req.Config[node])
	if fn, ok := s.Modules[m.Module]; ok {
		return fn(cfg, inputs)
	}
	if len(inputs) > 0 {
		var passed []any
		for _, w := range req.Template.Wires {
			if w.Target.Module == node {
				passed = append(passed, inputs[w.Target.Terminal]...)
				inputs[w.Target.Terminal] = nil
			}
		}
		return passed, nil
	}
	echo := map[string]any{"module": m.Module}
	if cfg != nil {
		echo["config"] = map[string]any(cfg)
	}
	return []any{echo}, nil
}

func effectiveConfig(base, override template.ModuleConfig) template.ModuleConfig {
	if base == nil && override == nil {
		return nil
	}
	cfg := base.Clone()
	if cfg == nil {
		cfg = template.ModuleConfig{}
	}
	for key, value := range override {
		cfg[key] = template.CloneValue(value)
	}
	return cfg
}
