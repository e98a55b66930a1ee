package template

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type stubLookup map[string][2][]string

func (s stubLookup) Terminals(id string) ([]string, []string, bool) {
	entry, ok := s[id]
	if !ok {
		return nil, nil, false
	}
	return entry[0], entry[1], true
}

var lookup = stubLookup{
	"load":  {nil, {"output"}},
	"scale": {{"data"}, {"output"}},
}

func twoModuleTemplate() Template {
	return Template{
		Name:       "pair",
		Instrument: "ncnr.refl",
		Version:    "1.0",
		Modules: []Module{
			{Module: "load", Version: "0.1"},
			{Module: "scale", Version: "0.1"},
		},
		Wires: []Wire{{Source: TerminalRef{0, "output"}, Target: TerminalRef{1, "data"}}},
	}
}

func TestValidateAcceptsDeclaredTerminals(t *testing.T) {
	if err := twoModuleTemplate().Validate(lookup); err != nil {
		t.Fatalf("expected valid template, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeIndex(t *testing.T) {
	tpl := twoModuleTemplate()
	tpl.Wires = append(tpl.Wires, Wire{Source: TerminalRef{0, "output"}, Target: TerminalRef{5, "data"}})
	err := tpl.Validate(lookup)
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateRejectsUndeclaredTerminal(t *testing.T) {
	tpl := twoModuleTemplate()
	tpl.Wires[0].Target.Terminal = "missing"
	if err := tpl.Validate(lookup); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	tpl = twoModuleTemplate()
	tpl.Wires[0].Source.Terminal = "data" // an input used as a source
	if err := tpl.Validate(lookup); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected source side check, got %v", err)
	}
}

func TestValidateSkipsUnknownModules(t *testing.T) {
	tpl := twoModuleTemplate()
	tpl.Modules[1].Module = "not-in-instrument"
	tpl.Wires[0].Target.Terminal = "anything"
	if err := tpl.Validate(lookup); err != nil {
		t.Fatalf("unknown modules should not fail structural validation: %v", err)
	}
}

func TestSetModuleConfigCreatesConfigLazily(t *testing.T) {
	tpl := twoModuleTemplate()
	if tpl.Modules[1].Config != nil {
		t.Fatalf("config must start absent")
	}
	if err := tpl.SetModuleConfig(1, "scale", 2.5); err != nil {
		t.Fatalf("set config: %v", err)
	}
	got, ok := tpl.ModuleConfigValue(1, "scale")
	if !ok || got != 2.5 {
		t.Fatalf("expected 2.5, got %v (ok=%v)", got, ok)
	}
	if tpl.Modules[0].Config != nil {
		t.Fatalf("other modules must be untouched, got %v", tpl.Modules[0].Config)
	}
}

func TestSetModuleConfigRejectsBadIndex(t *testing.T) {
	tpl := twoModuleTemplate()
	if err := tpl.SetModuleConfig(2, "x", 1); err == nil {
		t.Fatalf("expected index error")
	}
}

func TestClearModuleConfig(t *testing.T) {
	tpl := twoModuleTemplate()
	_ = tpl.SetModuleConfig(1, "scale", 2.5)
	if err := tpl.ClearModuleConfig(1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := tpl.ModuleConfigValue(1, "scale"); ok {
		t.Fatalf("expected cleared value")
	}
	if tpl.Modules[1].Config != nil {
		t.Fatalf("expected config map removed")
	}
}

func TestCloneIsDeep(t *testing.T) {
	tpl := twoModuleTemplate()
	_ = tpl.SetModuleConfig(1, "masked", [][]int{{1, 2}})
	clone := tpl.Clone()
	clone.Modules[1].Config["masked"].([][]int)[0][0] = 99
	clone.Wires[0].Target.Terminal = "changed"
	if tpl.Modules[1].Config["masked"].([][]int)[0][0] != 1 {
		t.Fatalf("clone shares config storage")
	}
	if tpl.Wires[0].Target.Terminal != "data" {
		t.Fatalf("clone shares wire storage")
	}
}

func TestSourcesOfFollowsWires(t *testing.T) {
	tpl := twoModuleTemplate()
	got := tpl.SourcesOf(1, "data")
	want := []TerminalRef{{0, "output"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	if len(tpl.SourcesOf(0, "data")) != 0 {
		t.Fatalf("expected no sources for unwired terminal")
	}
}

func TestParseJSONWireEncoding(t *testing.T) {
	const payload = `{
  "name": "demo",
  "modules": [{"module": "load"}, {"module": "scale", "config": {"scale": 2}}],
  "wires": [{"source": [0, "output"], "target": [1, "data"]}],
  "instrument": "ncnr.refl",
  "version": "0.0"
}`
	tpl, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tpl.Wires[0].Target != (TerminalRef{1, "data"}) {
		t.Fatalf("unexpected wire: %+v", tpl.Wires[0])
	}
	out, err := json.Marshal(tpl.Wires[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"source":[0,"output"],"target":[1,"data"]}` {
		t.Fatalf("unexpected wire encoding %s", out)
	}
}

func TestParseYAML(t *testing.T) {
	const payload = `
name: demo
instrument: ncnr.refl
version: "0.0"
modules:
  - module: load
  - module: scale
wires:
  - source: [0, output]
    target: [1, data]
`
	tpl, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tpl.Modules) != 2 || tpl.Wires[0].Source != (TerminalRef{0, "output"}) {
		t.Fatalf("unexpected template: %+v", tpl)
	}
}

func TestParseRejectsEmptyAndDanglingWires(t *testing.T) {
	if _, err := Parse([]byte("  ")); err == nil {
		t.Fatalf("expected empty payload error")
	}
	const dangling = `{"name":"x","modules":[{"module":"a"}],"wires":[{"source":[0,"out"],"target":[3,"in"]}]}`
	if _, err := Parse([]byte(dangling)); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := t.TempDir() + "/template.json"
	tpl := twoModuleTemplate()
	_ = tpl.SetModuleConfig(1, "label", "hello")
	if err := Save(path, tpl); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(tpl, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJSONEscapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"escaped slash", `{"name": "a\/b", "modules": [], "wires": []}`, "a/b"},
		{"unicode escape", `{"name": "\u00c5ngstr\u00f6m", "modules": [], "wires": []}`, "Ångström"},
		{"surrogate pair", `{"name": "run \ud83d\ude80", "modules": [], "wires": []}`, "run 🚀"},
		{"leading whitespace", "\n  {\"name\": \"tab\\tname\", \"modules\": [], \"wires\": []}", "tab\tname"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := Parse([]byte(tc.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if tpl.Name != tc.want {
				t.Fatalf("name = %q, want %q", tpl.Name, tc.want)
			}
		})
	}
}

func TestIsJSON(t *testing.T) {
	if !IsJSON([]byte("  {\"name\": 1}")) || !IsJSON([]byte("[]")) {
		t.Fatalf("expected JSON payloads to be detected")
	}
	if IsJSON([]byte("name: demo\n")) || IsJSON(nil) {
		t.Fatalf("YAML payload detected as JSON")
	}
}
