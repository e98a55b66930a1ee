package calc_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/calc/calctest"
	"github.com/kingrea/reflweb/internal/template"
)

func TestExportHeaderRoundTrip(t *testing.T) {
	tpl := pipeline()
	header := calc.Header{Template: tpl, Node: 3, Terminal: "output"}
	text, err := calc.FormatExport(header, []string{"1 2 3\n4 5 6", "7 8 9"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.HasPrefix(text, "#{") {
		t.Fatalf("expected header line, got %q", text)
	}
	parsed, blocks, err := calc.ParseExport(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(header, parsed); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1 2 3\n4 5 6", "7 8 9"}, blocks); diff != "" {
		t.Fatalf("blocks mismatch:\n%s", diff)
	}
	req := parsed.Request()
	if req.Node != 3 || req.Terminal != "output" || req.ReturnType != calc.ReturnExport {
		t.Fatalf("rebuilt request mismatch: %+v", req)
	}
}

func TestExportRoundTripKeepsCacheKey(t *testing.T) {
	tpl := pipeline()
	if err := tpl.SetModuleConfig(1, "count", 3); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := tpl.SetModuleConfig(1, "mask", [][]int{{1, 4}}); err != nil {
		t.Fatalf("set mask: %v", err)
	}
	refs := []template.FileRef{{Source: "ncnr", Path: "cgd/a.nxz", Mtime: 12}}
	if err := tpl.SetModuleConfig(1, "filelist", refs); err != nil {
		t.Fatalf("set filelist: %v", err)
	}
	want := calc.Request{Template: tpl, Node: 1, Terminal: "output", ReturnType: calc.ReturnExport}
	text, err := calc.FormatExport(calc.HeaderOf(want), []string{"1 2"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	parsed, _, err := calc.ParseExport(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed.Request()
	if _, ok := got.Template.Modules[1].Config["count"].(float64); !ok {
		t.Fatalf("expected decoded config, got %T", got.Template.Modules[1].Config["count"])
	}
	wantKey, err := want.Key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	gotKey, err := got.Key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if wantKey != gotKey {
		t.Fatalf("key changed across export: %s != %s", wantKey, gotKey)
	}
}

func TestParseExportRejectsMissingHeader(t *testing.T) {
	if _, _, err := calc.ParseExport("1 2 3\n"); err == nil {
		t.Fatalf("expected header error")
	}
	if _, _, err := calc.ParseExport("#{not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseExportSplitsOnBlankLines(t *testing.T) {
	header := calc.Header{Template: pipeline(), Node: 1, Terminal: "output"}
	text, err := calc.FormatExport(header, []string{"# x y\n1 2\n\n3 4", "5 6"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	parsed, blocks, err := calc.ParseExport(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"# x y\n1 2", "3 4", "5 6"}, blocks); diff != "" {
		t.Fatalf("blocks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(header, parsed); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestResultExportUsesStringValues(t *testing.T) {
	svc := calctest.New(map[string]calctest.ModuleFunc{
		"A": func(template.ModuleConfig, map[string][]any) ([]any, error) {
			return []any{"# x y\n1 2", "# x y\n3 4"}, nil
		},
	})
	req := calc.Request{Template: pipeline(), Node: 0, Terminal: "output", ReturnType: calc.ReturnExport}
	res, err := calc.NewClient(svc).Calc(context.Background(), req)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	text, err := res.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	first, rest, _ := strings.Cut(text, "\n")
	if rest != "# x y\n1 2\n\n# x y\n3 4" {
		t.Fatalf("unexpected body %q", rest)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal([]byte(first[1:]), &header); err != nil {
		t.Fatalf("header json: %v", err)
	}
	for _, key := range []string{"template", "node", "terminal"} {
		if _, ok := header[key]; !ok {
			t.Fatalf("header missing %q", key)
		}
	}
}
