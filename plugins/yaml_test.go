package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

const sampleDefinition = `id: ncnr.refl
name: NCNR reflectometry
modules:
  - id: ncnr.refl.ncnr_load.cached
    version: "0.1"
    outputs:
      - id: output
        datatype: ncnr.refl.refldata
    fields:
      - id: filelist
        datatype: fileinfo
        multiple: true
  - id: ncnr.refl.normalize
    inputs:
      - id: data
    outputs:
      - id: output
    fields:
      - id: base
        label: Normalize by
        datatype: OPT
        default: auto
        typeattr:
          choices:
            - [Auto, auto]
            - [Monitor, monitor]
templates:
  simple:
    modules:
      - module: ncnr.refl.ncnr_load.cached
      - module: ncnr.refl.normalize
    wires:
      - source: [0, output]
        target: [1, data]
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "ncnr.refl" || len(def.Modules) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	field := def.Modules[1].Fields[0]
	if field.Datatype != registry.DatatypeOption {
		t.Fatalf("expected normalized datatype, got %q", field.Datatype)
	}
	if len(field.TypeAttr.Choices) != 2 || field.TypeAttr.Choices[1].Value != "monitor" {
		t.Fatalf("unexpected choices: %+v", field.TypeAttr.Choices)
	}
	tpl := def.Templates["simple"]
	if tpl.Name != "simple" || tpl.Instrument != "ncnr.refl" {
		t.Fatalf("template metadata not filled in: %+v", tpl)
	}
	if tpl.Wires[0].Target != (template.TerminalRef{Module: 1, Terminal: "data"}) {
		t.Fatalf("unexpected wire: %+v", tpl.Wires[0])
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseDefinitionYAML([]byte("name: no id\n")); err == nil {
		t.Fatalf("expected missing id to fail validation")
	}
	const badWire = `id: x
modules: [{id: a}]
templates:
  t:
    modules: [{module: a}]
    wires: [{source: [0, out], target: [4, in]}]
`
	if _, err := ParseDefinitionYAML([]byte(badWire)); err == nil {
		t.Fatalf("expected dangling template wire to fail")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "refl.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}

func TestParseDefinitionJSONEscapes(t *testing.T) {
	const payload = `{
  "id": "ncnr.refl",
  "name": "NCNR reflectometry \/ \u00c5 units",
  "modules": [{"id": "ncnr.refl.load", "outputs": [{"id": "output"}],
    "fields": [{"id": "mode", "datatype": "opt", "default": "auto",
      "typeattr": {"choices": [["Auto", "auto"], ["Fixed", "fixed"]]}}]}]
}`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("parse json definition: %v", err)
	}
	if def.Name != "NCNR reflectometry / Å units" {
		t.Fatalf("name = %q", def.Name)
	}
	if choices := def.Modules[0].Fields[0].TypeAttr.Choices; len(choices) != 2 || choices[1].Value != "fixed" {
		t.Fatalf("unexpected choices: %+v", choices)
	}
}
