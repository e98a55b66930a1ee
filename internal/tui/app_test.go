package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/calc/calctest"
	"github.com/kingrea/reflweb/internal/editor"
	"github.com/kingrea/reflweb/internal/fieldui"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

func testSession(t *testing.T) *editor.Session {
	t.Helper()
	def := registry.InstrumentDef{
		ID: "ncnr.refl",
		Modules: []registry.ModuleDef{
			{ID: "ncnr.refl.load", Outputs: []registry.Terminal{{ID: "output"}}},
			{
				ID:      "ncnr.refl.normalize",
				Inputs:  []registry.Terminal{{ID: "data"}},
				Outputs: []registry.Terminal{{ID: "output"}},
				Fields: []registry.FieldDef{
					{ID: "scale", Label: "Scale", Datatype: registry.DatatypeFloat, Default: 1.0},
					{ID: "mode", Datatype: registry.DatatypeOption, Default: "auto", TypeAttr: registry.TypeAttr{
						Choices: []registry.Choice{{Label: "Auto", Value: "auto"}, {Label: "Monitor", Value: "monitor"}},
					}},
					{ID: "smooth", Datatype: registry.DatatypeBool, Default: false},
				},
			},
			{
				ID:      "ncnr.refl.mask",
				Inputs:  []registry.Terminal{{ID: "data"}},
				Outputs: []registry.Terminal{{ID: "output"}},
				Fields: []registry.FieldDef{
					{ID: "mask", Datatype: registry.DatatypeIndex},
					{ID: "filelist", Datatype: registry.DatatypeFileInfo},
				},
			},
		},
		Templates: map[string]template.Template{
			"simple": {
				Name:    "simple",
				Modules: []template.Module{{Module: "ncnr.refl.load"}, {Module: "ncnr.refl.normalize"}, {Module: "ncnr.refl.mask"}},
				Wires: []template.Wire{
					{
						Source: template.TerminalRef{Module: 0, Terminal: "output"},
						Target: template.TerminalRef{Module: 1, Terminal: "data"},
					},
					{
						Source: template.TerminalRef{Module: 1, Terminal: "output"},
						Target: template.TerminalRef{Module: 2, Terminal: "data"},
					},
				},
				Instrument: "ncnr.refl",
			},
		},
	}
	catalog := instrument.NewCatalog()
	err := catalog.Register(instrument.Plugin{
		ID: "ncnr.refl",
		Plot: func(*calc.Result) (instrument.Plottable, error) {
			return instrument.Plot1D{
				XAxis:  instrument.Axis{Label: "Qz"},
				YAxis:  instrument.Axis{Label: "R"},
				Series: []instrument.Series{{Label: "run:1", Points: []instrument.Point{{X: 0.01}, {X: 0.2}}}},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	source := registry.SourceFunc(func(context.Context, string) (registry.InstrumentDef, error) { return def, nil })
	s, err := editor.Open(context.Background(), editor.Deps{
		Source:  source,
		Client:  calc.NewClient(calctest.New(nil)),
		Catalog: catalog,
	}, "ncnr.refl")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return s
}

func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		nextModel, nextCmd := app.Update(msg)
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		cmd = nextCmd
	}
	return app
}

func press(t *testing.T, app *App, keys ...tea.KeyMsg) *App {
	t.Helper()
	for _, key := range keys {
		model, cmd := app.Update(key)
		app = runCommands(t, model, cmd)
	}
	return app
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyRight = tea.KeyMsg{Type: tea.KeyRight}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyBack  = tea.KeyMsg{Type: tea.KeyBackspace}
)

func openNormalizePanel(t *testing.T, app *App) *App {
	t.Helper()
	app = press(t, app, keyDown, keyEnter)
	if app.state != statePanel || app.panel == nil {
		t.Fatalf("panel not opened: state=%v err=%v", app.state, app.err)
	}
	return app
}

func openMaskPanel(t *testing.T, app *App) *App {
	t.Helper()
	app = press(t, app, keyDown, keyDown, keyEnter)
	if app.state != statePanel || app.panel == nil || app.panel.index != 2 {
		t.Fatalf("mask panel not opened: state=%v err=%v", app.state, app.err)
	}
	return app
}

func TestEditAndAcceptField(t *testing.T) {
	s := testSession(t)
	app := openNormalizePanel(t, NewApp(s))
	if len(app.panel.controls) != 3 {
		t.Fatalf("controls = %d", len(app.panel.controls))
	}

	app = press(t, app, keyEnter, keyBack, runes("x"), keyEnter)
	if !errors.Is(app.err, fieldui.ErrCoerce) {
		t.Fatalf("err = %v, want coerce error", app.err)
	}
	if b, _ := app.panel.panel.Binding("scale"); b.Value() != 1.0 {
		t.Fatalf("failed edit changed value to %v", b.Value())
	}

	app = press(t, app, keyEnter, keyBack, runes("2.5"), keyEnter)
	if app.err != nil {
		t.Fatalf("edit: %v", app.err)
	}
	app = press(t, app, runes("a"))
	if v, _ := s.Template().ModuleConfigValue(1, "scale"); v != 2.5 {
		t.Fatalf("scale = %v after accept", v)
	}
	if app.state != statePanel || app.panel.controls[0].Raw != "2.5" {
		t.Fatalf("panel should reopen with accepted value, got %+v", app.panel.controls[0])
	}
}

func TestEscapeDiscardsEdits(t *testing.T) {
	s := testSession(t)
	app := openNormalizePanel(t, NewApp(s))
	app = press(t, app, keyDown, keyRight, keyDown, runes(" "))
	mode, _ := app.panel.panel.Binding("mode")
	smooth, _ := app.panel.panel.Binding("smooth")
	if mode.Value() != "monitor" || smooth.Value() != true {
		t.Fatalf("bindings = %v, %v", mode.Value(), smooth.Value())
	}
	app = press(t, app, keyEsc)
	if app.state != stateModules {
		t.Fatalf("esc should return to modules")
	}
	if cfg := s.Template().Modules[1].Config; cfg != nil {
		t.Fatalf("discarded edits reached template: %v", cfg)
	}
}

func TestClearRevertsToDefaults(t *testing.T) {
	s := testSession(t)
	if err := s.SetModuleConfig(1, "scale", 9.0); err != nil {
		t.Fatalf("set: %v", err)
	}
	app := openNormalizePanel(t, NewApp(s))
	if app.panel.controls[0].Raw != "9" {
		t.Fatalf("raw = %q", app.panel.controls[0].Raw)
	}
	app = press(t, app, runes("c"))
	if s.Template().Modules[1].Config != nil {
		t.Fatalf("clear kept config")
	}
	if app.panel.controls[0].Raw != "1" {
		t.Fatalf("reopened raw = %q, want default", app.panel.controls[0].Raw)
	}
}

func TestShowTerminalRendersPlotSummary(t *testing.T) {
	app := press(t, NewApp(testSession(t)), runes("t"))
	if app.err != nil {
		t.Fatalf("show: %v", app.err)
	}
	if !strings.Contains(app.plotText, "R vs Qz") || !strings.Contains(app.plotText, "run:1: 2 points") {
		t.Fatalf("plot text = %q", app.plotText)
	}
	if !strings.Contains(app.View(), "run:1") {
		t.Fatalf("view missing plot summary")
	}
}

func TestIndexKeysTogglePoints(t *testing.T) {
	s := testSession(t)
	app := openMaskPanel(t, NewApp(s))
	if ctl := app.panel.controls[0]; ctl.Kind != fieldui.ControlIndex || ctl.Datasets != 1 {
		t.Fatalf("mask control = %+v", ctl)
	}

	app = press(t, app, keyEnter, runes("3"), keyEnter, keyEnter, runes("5"), keyEnter)
	if app.err != nil {
		t.Fatalf("toggle: %v", app.err)
	}
	mask, _ := app.panel.panel.Binding("mask")
	if diff := cmp.Diff([][]int{{3, 5}}, mask.Value()); diff != "" {
		t.Fatalf("mask mismatch (-want +got):\n%s", diff)
	}

	app = press(t, app, keyEnter, runes("3"), keyEnter)
	if diff := cmp.Diff([][]int{{5}}, mask.Value()); diff != "" {
		t.Fatalf("second toggle should clear point 3 (-want +got):\n%s", diff)
	}

	app = press(t, app, keyEnter, runes("x"), keyEnter)
	if !errors.Is(app.err, fieldui.ErrCoerce) {
		t.Fatalf("err = %v, want coerce error", app.err)
	}

	app = press(t, app, runes("a"))
	if v, _ := s.Template().ModuleConfigValue(2, "mask"); !cmp.Equal(v, [][]int{{5}}) {
		t.Fatalf("accepted mask = %v", v)
	}
}

func TestFilesKeySendsFileList(t *testing.T) {
	refs := []template.FileRef{
		{Source: "ncnr", Path: "cgd/a.nxz", Mtime: 1},
		{Source: "ncnr", Path: "cgd/b.nxz", Mtime: 2},
	}
	s := testSession(t)
	app := openMaskPanel(t, NewApp(s, WithFiles(refs)))
	app = press(t, app, runes("f"))
	if app.err != nil {
		t.Fatalf("send files: %v", app.err)
	}
	files, _ := app.panel.panel.Binding("filelist")
	if diff := cmp.Diff(refs, files.Value()); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if label := app.panel.controls[1].Label; label != "filelist(2)" {
		t.Fatalf("label = %q", label)
	}
	if !strings.Contains(app.statusMsg, "2 files") {
		t.Fatalf("status = %q", app.statusMsg)
	}

	bare := openMaskPanel(t, NewApp(testSession(t)))
	bare = press(t, bare, runes("f"))
	if !strings.Contains(bare.statusMsg, "--files") {
		t.Fatalf("status without files = %q", bare.statusMsg)
	}
}

func TestStalePanelIsDropped(t *testing.T) {
	app := openNormalizePanel(t, NewApp(testSession(t)))
	model, reopen := app.Update(runes("a"))
	app = model.(*App)
	app = press(t, app, keyEsc)
	if app.state != stateModules {
		t.Fatalf("esc should return to modules")
	}
	app = runCommands(t, app, reopen)
	if app.state != stateModules || app.panel != nil {
		t.Fatalf("reopen after esc reached the panel: state=%v", app.state)
	}
}

func TestSecondOpenWins(t *testing.T) {
	app := press(t, NewApp(testSession(t)), keyDown)
	model, first := app.Update(keyEnter)
	app = model.(*App)
	model, _ = app.Update(keyDown)
	app = model.(*App)
	model, second := app.Update(keyEnter)
	app = model.(*App)

	app = runCommands(t, app, second)
	app = runCommands(t, app, first)
	if app.state != statePanel || app.panel.index != 2 {
		t.Fatalf("panel index = %v, want the second open", app.panel)
	}
}
