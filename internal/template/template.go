package template

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTemplate marks structural graph violations. Loads that fail with
// it must be rejected as a whole.
var ErrInvalidTemplate = errors.New("invalid template")

// Template is a reduction graph: processing modules connected by wires plus
// the metadata needed to reload it. Module indices are positions in Modules
// and stay stable for the life of the template.
type Template struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Modules     []Module `json:"modules" yaml:"modules"`
	Wires       []Wire   `json:"wires" yaml:"wires"`
	Instrument  string   `json:"instrument" yaml:"instrument"`
	Version     string   `json:"version" yaml:"version"`
}

// Module is one configured processing step. Config stays nil until the first
// accepted edit.
type Module struct {
	Module  string       `json:"module" yaml:"module"`
	Version string       `json:"version,omitempty" yaml:"version,omitempty"`
	Title   string       `json:"title,omitempty" yaml:"title,omitempty"`
	Config  ModuleConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// ModuleConfig maps field ids to values. Values are opaque at this layer.
type ModuleConfig map[string]any

// Clone returns a deep copy of the config map.
func (cfg ModuleConfig) Clone() ModuleConfig {
	if cfg == nil {
		return nil
	}
	clone := make(ModuleConfig, len(cfg))
	for key, value := range cfg {
		clone[key] = CloneValue(value)
	}
	return clone
}

// FileRef identifies one remote data file. It is the value type of file
// fields and of loader parameters.
type FileRef struct {
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path" yaml:"path"`
	Mtime  int64  `json:"mtime" yaml:"mtime"`
}

// TerminalLookup reports the declared terminals of a module definition. ok is
// false when the module is not known to the current instrument.
type TerminalLookup interface {
	Terminals(moduleID string) (inputs, outputs []string, ok bool)
}

// Clone returns a deep copy of the template.
func (t Template) Clone() Template {
	clone := Template{
		Name:        t.Name,
		Description: t.Description,
		Instrument:  t.Instrument,
		Version:     t.Version,
	}
	if t.Modules != nil {
		clone.Modules = make([]Module, len(t.Modules))
		for i, m := range t.Modules {
			clone.Modules[i] = Module{
				Module:  m.Module,
				Version: m.Version,
				Title:   m.Title,
				Config:  m.Config.Clone(),
			}
		}
	}
	if t.Wires != nil {
		clone.Wires = make([]Wire, len(t.Wires))
		copy(clone.Wires, t.Wires)
	}
	return clone
}

// Validate checks that every wire references an existing module and, when
// lookup knows the module, a declared terminal on the correct side.
func (t Template) Validate(lookup TerminalLookup) error {
	for idx, m := range t.Modules {
		if m.Module == "" {
			return fmt.Errorf("%w: module[%d]: module id is required", ErrInvalidTemplate, idx)
		}
	}
	for idx, w := range t.Wires {
		if err := t.checkEnd(lookup, w.Source, false); err != nil {
			return fmt.Errorf("%w: wire[%d] source: %v", ErrInvalidTemplate, idx, err)
		}
		if err := t.checkEnd(lookup, w.Target, true); err != nil {
			return fmt.Errorf("%w: wire[%d] target: %v", ErrInvalidTemplate, idx, err)
		}
	}
	return nil
}

func (t Template) checkEnd(lookup TerminalLookup, ref TerminalRef, input bool) error {
	if ref.Module < 0 || ref.Module >= len(t.Modules) {
		return fmt.Errorf("module index %d out of range [0,%d)", ref.Module, len(t.Modules))
	}
	if ref.Terminal == "" {
		return fmt.Errorf("terminal id is required")
	}
	if lookup == nil {
		return nil
	}
	moduleID := t.Modules[ref.Module].Module
	inputs, outputs, ok := lookup.Terminals(moduleID)
	if !ok {
		return nil
	}
	declared, side := outputs, "output"
	if input {
		declared, side = inputs, "input"
	}
	for _, id := range declared {
		if id == ref.Terminal {
			return nil
		}
	}
	return fmt.Errorf("module %s declares no %s terminal %q", moduleID, side, ref.Terminal)
}

// SetModuleConfig stores value under fieldID on the module at index, creating
// the config map on first use. No type checking happens here.
func (t *Template) SetModuleConfig(index int, fieldID string, value any) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	if fieldID == "" {
		return fmt.Errorf("template: field id is required")
	}
	m := &t.Modules[index]
	if m.Config == nil {
		m.Config = ModuleConfig{}
	}
	m.Config[fieldID] = value
	return nil
}

// ClearModuleConfig drops the module's config entirely so fields fall back to
// their defaults.
func (t *Template) ClearModuleConfig(index int) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	t.Modules[index].Config = nil
	return nil
}

// ModuleConfigValue returns the configured value for a field and whether one
// is set.
func (t Template) ModuleConfigValue(index int, fieldID string) (any, bool) {
	if index < 0 || index >= len(t.Modules) {
		return nil, false
	}
	cfg := t.Modules[index].Config
	if cfg == nil {
		return nil, false
	}
	value, ok := cfg[fieldID]
	return value, ok
}

// SourcesOf returns the output terminals wired into the given input terminal,
// in wire order.
func (t Template) SourcesOf(index int, terminal string) []TerminalRef {
	var out []TerminalRef
	for _, w := range t.Wires {
		if w.Target.Module == index && w.Target.Terminal == terminal {
			out = append(out, w.Source)
		}
	}
	return out
}

// ModuleIDs returns the distinct module definition ids used by the template.
func (t Template) ModuleIDs() []string {
	seen := map[string]struct{}{}
	for _, m := range t.Modules {
		seen[m.Module] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t Template) checkIndex(index int) error {
	if index < 0 || index >= len(t.Modules) {
		return fmt.Errorf("template: module index %d out of range [0,%d)", index, len(t.Modules))
	}
	return nil
}

// CloneValue deep-copies the value shapes that appear in module configs.
// Anything else is returned as is.
func CloneValue(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = CloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = CloneValue(item)
		}
		return out
	case []float64:
		return append([]float64(nil), v...)
	case []int:
		return append([]int(nil), v...)
	case [][]int:
		out := make([][]int, len(v))
		for i, item := range v {
			out[i] = append([]int{}, item...)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []FileRef:
		return append([]FileRef(nil), v...)
	default:
		return value
	}
}
