package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kingrea/reflweb/internal/template"
)

func sampleInstrument() InstrumentDef {
	return InstrumentDef{
		ID: "ncnr.refl",
		Modules: []ModuleDef{
			{ID: "load", Outputs: []Terminal{{ID: "output"}}},
			{
				ID:      "scale",
				Inputs:  []Terminal{{ID: "data"}},
				Outputs: []Terminal{{ID: "output"}},
				Fields:  []FieldDef{{ID: "scale", Datatype: DatatypeFloat, Default: 1.0}},
			},
		},
		Templates: map[string]template.Template{
			"b-second": {Name: "b-second"},
			"a-first":  {Name: "a-first"},
		},
	}
}

func staticSource(defs ...InstrumentDef) Source {
	return SourceFunc(func(_ context.Context, id string) (InstrumentDef, error) {
		for _, def := range defs {
			if def.ID == id {
				return def, nil
			}
		}
		return InstrumentDef{}, ErrUnknownInstrument
	})
}

func TestLoadInstrumentAndLookup(t *testing.T) {
	reg := New(staticSource(sampleInstrument()))
	if err := reg.LoadInstrument(context.Background(), "ncnr.refl"); err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := reg.ModuleDef("scale")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id, ok := def.FirstInput(); !ok || id != "data" {
		t.Fatalf("unexpected first input %q (%v)", id, ok)
	}
	if reg.InstrumentID() != "ncnr.refl" {
		t.Fatalf("unexpected instrument id %q", reg.InstrumentID())
	}
}

func TestModuleDefUnknown(t *testing.T) {
	reg := New(staticSource(sampleInstrument()))
	_ = reg.LoadInstrument(context.Background(), "ncnr.refl")
	if _, err := reg.ModuleDef("nope"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestLoadInstrumentUnknownKeepsPreviousMapping(t *testing.T) {
	reg := New(staticSource(sampleInstrument()))
	_ = reg.LoadInstrument(context.Background(), "ncnr.refl")
	err := reg.LoadInstrument(context.Background(), "ncnr.sans")
	if !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if _, err := reg.ModuleDef("scale"); err != nil {
		t.Fatalf("previous mapping should survive a failed load: %v", err)
	}
}

func TestLoadInstrumentReplacesWholesale(t *testing.T) {
	other := InstrumentDef{ID: "ncnr.sans", Modules: []ModuleDef{{ID: "sans-load"}}}
	reg := New(staticSource(sampleInstrument(), other))
	_ = reg.LoadInstrument(context.Background(), "ncnr.refl")
	if err := reg.LoadInstrument(context.Background(), "ncnr.sans"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := reg.ModuleDef("scale"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("old modules must be dropped, got %v", err)
	}
	if got := reg.ModuleIDs(); len(got) != 1 || got[0] != "sans-load" {
		t.Fatalf("unexpected module ids %v", got)
	}
}

func TestLoadInstrumentRejectsDuplicateModules(t *testing.T) {
	def := InstrumentDef{ID: "dup", Modules: []ModuleDef{{ID: "a"}, {ID: "a"}}}
	reg := New(staticSource(def))
	if err := reg.LoadInstrument(context.Background(), "dup"); err == nil {
		t.Fatalf("expected duplicate module error")
	}
}

func TestTerminalsAndDefaultTemplate(t *testing.T) {
	reg := New(staticSource(sampleInstrument()))
	_ = reg.LoadInstrument(context.Background(), "ncnr.refl")
	in, out, ok := reg.Terminals("scale")
	if !ok || len(in) != 1 || in[0] != "data" || out[0] != "output" {
		t.Fatalf("unexpected terminals %v %v %v", in, out, ok)
	}
	if _, _, ok := reg.Terminals("missing"); ok {
		t.Fatalf("expected unknown module to report ok=false")
	}
	tpl, ok := reg.DefaultTemplate()
	if !ok || tpl.Name != "a-first" {
		t.Fatalf("expected a-first default, got %q", tpl.Name)
	}
}

func TestChoiceDecoding(t *testing.T) {
	var attr TypeAttr
	if err := json.Unmarshal([]byte(`{"choices": [["Linear", "lin"], ["Log", "log"], "raw"]}`), &attr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(attr.Choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(attr.Choices))
	}
	if attr.Choices[1].Label != "Log" || attr.Choices[1].Value != "log" {
		t.Fatalf("unexpected choice %+v", attr.Choices[1])
	}
	if attr.Choices[2].Label != "raw" || attr.Choices[2].Value != "raw" {
		t.Fatalf("bare values should double as labels, got %+v", attr.Choices[2])
	}
}
