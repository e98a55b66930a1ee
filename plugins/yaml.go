package plugins

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

// DefinitionFile pairs a parsed instrument definition with its on-disk source.
type DefinitionFile struct {
	Definition registry.InstrumentDef
	Path       string
}

// ParseDefinitionYAML decodes and validates a single instrument definition
// payload. JSON payloads are accepted as well.
func ParseDefinitionYAML(data []byte) (registry.InstrumentDef, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return registry.InstrumentDef{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def registry.InstrumentDef
	if template.IsJSON(data) {
		if err := json.Unmarshal(data, &def); err != nil {
			return registry.InstrumentDef{}, fmt.Errorf("plugin: decode json definition: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &def); err != nil {
		return registry.InstrumentDef{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	def = normalize(def)
	if err := def.Validate(); err != nil {
		return registry.InstrumentDef{}, err
	}
	for name, t := range def.Templates {
		if t.Name == "" {
			t.Name = name
		}
		if t.Instrument == "" {
			t.Instrument = def.ID
		}
		if err := t.Validate(nil); err != nil {
			return registry.InstrumentDef{}, fmt.Errorf("plugin: template %s: %w", name, err)
		}
		def.Templates[name] = t
	}
	return def, nil
}

// LoadDefinitionFile reads a YAML file from disk and returns the parsed
// instrument definition.
func LoadDefinitionFile(path string) (DefinitionFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return DefinitionFile{}, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(data)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return DefinitionFile{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadDefinitionDir scans a directory for *.yaml / *.yml / *.json instrument
// definitions. Missing directories are treated as "no definitions".
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		def, err := LoadDefinitionFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isDefinitionFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json")
}

func normalize(def registry.InstrumentDef) registry.InstrumentDef {
	def.ID = strings.TrimSpace(def.ID)
	def.Name = strings.TrimSpace(def.Name)
	for i := range def.Modules {
		m := &def.Modules[i]
		m.ID = strings.TrimSpace(m.ID)
		for j := range m.Fields {
			f := &m.Fields[j]
			f.ID = strings.TrimSpace(f.ID)
			f.Datatype = registry.Datatype(strings.ToLower(strings.TrimSpace(string(f.Datatype))))
		}
	}
	return def
}
