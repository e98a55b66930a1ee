package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/reflweb/internal/registry"
)

const goPluginSource = `package main

import "fmt"

func InstrumentDefinitions() ([]map[string]any, error) {
	modules := []map[string]any{
		{
			"id":      "ncnr.sans.load",
			"outputs": []map[string]any{{"id": "output"}},
		},
		{
			"id":      "ncnr.sans.scale",
			"inputs":  []map[string]any{{"id": "data"}},
			"outputs": []map[string]any{{"id": "output"}},
			"fields": []map[string]any{
				{"id": "scale", "datatype": "float", "default": 1.5},
				{"id": "mode", "datatype": "opt", "default": "auto", "typeattr": map[string]any{
					"choices": []any{[]any{"Auto", "auto"}, []any{"Fixed", "fixed"}},
				}},
			},
		},
	}
	for i := range modules {
		modules[i]["name"] = fmt.Sprintf("step %d", i)
	}
	return []map[string]any{
		{
			"id":      "ncnr.sans",
			"modules": modules,
			"templates": map[string]any{
				"basic": map[string]any{
					"modules": []any{
						map[string]any{"module": "ncnr.sans.load"},
						map[string]any{"module": "ncnr.sans.scale"},
					},
					"wires": []any{
						map[string]any{"source": []any{0, "output"}, "target": []any{1, "data"}},
					},
				},
			},
		},
	}, nil
}`

func TestLoadGoDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sans.go"), []byte(goPluginSource), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load go defs: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	def := defs[0].Definition
	if def.ID != "ncnr.sans" || len(def.Modules) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	scale := def.Modules[1]
	if scale.Name != "step 1" || scale.Fields[0].Default != 1.5 {
		t.Fatalf("unexpected module: %+v", scale)
	}
	mode := scale.Fields[1]
	if mode.Datatype != registry.DatatypeOption || len(mode.TypeAttr.Choices) != 2 || mode.TypeAttr.Choices[1].Value != "fixed" {
		t.Fatalf("unexpected choices: %+v", mode.TypeAttr)
	}
	tpl, ok := def.Templates["basic"]
	if !ok || tpl.Name != "basic" || tpl.Instrument != "ncnr.sans" {
		t.Fatalf("template not normalized: %+v", tpl)
	}
	if len(tpl.Wires) != 1 || tpl.Wires[0].Target.Module != 1 || tpl.Wires[0].Target.Terminal != "data" {
		t.Fatalf("unexpected wires: %+v", tpl.Wires)
	}
}

func TestLoadGoDefinitionDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken plugin: %v", err)
	}
	if _, err := LoadGoDefinitionDir(dir); err == nil {
		t.Fatalf("expected error for missing InstrumentDefinitions function")
	}
}

func TestLoadGoDefinitionDirReturnedError(t *testing.T) {
	dir := t.TempDir()
	src := `package main

import "errors"

func InstrumentDefinitions() ([]map[string]any, error) {
	return nil, errors.New("beamline offline")
}`
	if err := os.WriteFile(filepath.Join(dir, "offline.go"), []byte(src), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	_, err := LoadGoDefinitionDir(dir)
	if err == nil || !strings.Contains(err.Error(), "beamline offline") {
		t.Fatalf("expected script error, got %v", err)
	}
}
