package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goDefinitionFuncName = "InstrumentDefinitions"

// LoadGoDefinitionDir interprets every .go file in dir with yaegi and collects
// the instrument definitions returned by InstrumentDefinitions().
func LoadGoDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(trimmed, "*.go"))
	if err != nil {
		return nil, fmt.Errorf("plugin: glob %s: %w", trimmed, err)
	}
	sort.Strings(paths)
	var defs []DefinitionFile
	for _, path := range paths {
		fileDefs, err := loadGoDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}

func loadGoDefinitionFile(path string) ([]DefinitionFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	raw, err := evalDefinitions(path)
	if err != nil {
		return nil, err
	}
	files := make([]DefinitionFile, 0, len(raw))
	for idx, entry := range raw {
		// Round-trip through YAML so Go and YAML definitions share one decoder.
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s instrument[%d]: %w", path, idx, err)
		}
		def, err := ParseDefinitionYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s instrument[%d]: %w", path, idx, err)
		}
		files = append(files, DefinitionFile{Definition: def, Path: fmt.Sprintf("%s#%d", path, idx+1)})
	}
	return files, nil
}

func evalDefinitions(path string) ([]map[string]any, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: %s: load stdlib symbols: %w", path, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(goDefinitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s() ([]map[string]any, error): %w", path, goDefinitionFuncName, err)
	}
	defs, err := callDefinitions(fn)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return defs, nil
}

func callDefinitions(fn reflect.Value) ([]map[string]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goDefinitionFuncName)
	}
	out := fn.Call(nil)
	switch len(out) {
	case 1:
	case 2:
		if errVal := out[1]; !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok {
				return nil, e
			}
			return nil, fmt.Errorf("%s returned a non-error second value", goDefinitionFuncName)
		}
	default:
		return nil, fmt.Errorf("%s must return ([]map[string]any[, error])", goDefinitionFuncName)
	}
	if defs, ok := out[0].Interface().([]map[string]any); ok {
		return defs, nil
	}
	list := out[0]
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", goDefinitionFuncName)
	}
	defs := make([]map[string]any, list.Len())
	for idx := range defs {
		m, ok := list.Index(idx).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", goDefinitionFuncName, idx)
		}
		defs[idx] = m
	}
	return defs, nil
}
