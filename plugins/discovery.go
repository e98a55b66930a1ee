package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/reflweb/internal/registry"
)

// LoadAll reads YAML/JSON and Go instrument definitions from dir. Duplicate
// instrument ids across files are rejected.
func LoadAll(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	all := append(yamlDefs, goDefs...)
	seen := make(map[string]string, len(all))
	for _, file := range all {
		id := file.Definition.ID
		if existing, ok := seen[id]; ok {
			return nil, fmt.Errorf("plugin: duplicate instrument id %s (%s and %s)", id, existing, file.Path)
		}
		seen[id] = file.Path
	}
	return all, nil
}

// DirSource serves instrument definitions from a local directory. The
// directory is scanned lazily on first use.
type DirSource struct {
	Dir string

	once sync.Once
	defs map[string]registry.InstrumentDef
	err  error
}

// NewDirSource returns a source reading definitions from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// Instrument satisfies registry.Source.
func (s *DirSource) Instrument(ctx context.Context, instrumentID string) (registry.InstrumentDef, error) {
	if err := ctx.Err(); err != nil {
		return registry.InstrumentDef{}, err
	}
	s.once.Do(s.scan)
	if s.err != nil {
		return registry.InstrumentDef{}, s.err
	}
	def, ok := s.defs[instrumentID]
	if !ok {
		return registry.InstrumentDef{}, fmt.Errorf("plugin: %s in %s: %w", instrumentID, s.Dir, registry.ErrUnknownInstrument)
	}
	return def, nil
}

// IDs lists the instrument ids found in the directory.
func (s *DirSource) IDs() ([]string, error) {
	s.once.Do(s.scan)
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *DirSource) scan() {
	files, err := LoadAll(s.Dir)
	if err != nil {
		s.err = err
		return
	}
	s.defs = make(map[string]registry.InstrumentDef, len(files))
	for _, file := range files {
		s.defs[file.Definition.ID] = file.Definition
	}
}
