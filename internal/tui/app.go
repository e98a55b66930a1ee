// internal/tui/app.go
//
// Terminal front end for a reflweb editing session. Two screens: the list of
// modules in the active template, and the configuration panel of one module.
// Service calls run as tea.Cmds; their results come back as messages.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/editor"
	"github.com/kingrea/reflweb/internal/fieldui"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/template"
)

type appState int

const (
	stateModules appState = iota // module list of the active template
	statePanel                   // configuration panel of one module
)

// AppOption customizes App construction.
type AppOption func(*App)

// WithLogger sets the logger used for UI events.
func WithLogger(l *zap.Logger) AppOption {
	return func(a *App) { a.log = logging.OrNop(l) }
}

// WithContext sets the context service calls run under.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithFiles sets the file list the panel hands to file fields.
func WithFiles(refs []template.FileRef) AppOption {
	return func(a *App) { a.files = append([]template.FileRef(nil), refs...) }
}

type moduleItem struct {
	index int
	title string
	desc  string
}

func (i moduleItem) Title() string       { return i.title }
func (i moduleItem) Description() string { return i.desc }
func (i moduleItem) FilterValue() string { return i.title }

type panelOpenedMsg struct {
	gen      uint64
	index    int
	panel    *fieldui.Panel
	controls []fieldui.Control
	err      error
}

type terminalMsg struct {
	target string
	text   string
	err    error
}

// App is the bubbletea model.
type App struct {
	state   appState
	session *editor.Session
	ctx     context.Context
	log     *zap.Logger

	modules  list.Model
	panel    *panelView
	plotText string
	files    []template.FileRef

	// panelGen tags panel opens; a panelOpenedMsg from an older open, or
	// one that arrives after the panel was left, is dropped.
	panelGen uint64

	statusMsg string
	err       error

	width  int
	height int
}

// NewApp builds the UI over an open session.
func NewApp(session *editor.Session, opts ...AppOption) *App {
	modules := list.New(nil, list.NewDefaultDelegate(), 60, 20)
	modules.SetShowStatusBar(false)
	modules.SetFilteringEnabled(false)
	app := &App{
		state:   stateModules,
		session: session,
		ctx:     context.Background(),
		log:     zap.NewNop(),
		modules: modules,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.refreshModules()
	return app
}

func (a *App) refreshModules() {
	tpl := a.session.Template()
	a.modules.Title = fmt.Sprintf("⬡ %s · %s", a.session.Registry().InstrumentID(), tpl.Name)
	items := make([]list.Item, len(tpl.Modules))
	for idx, m := range tpl.Modules {
		title := m.Title
		if title == "" {
			title = m.Module
		}
		desc := fmt.Sprintf("module %d · %d configured fields", idx, len(m.Config))
		if _, err := a.session.Registry().ModuleDef(m.Module); err != nil {
			desc = fmt.Sprintf("module %d · not configurable", idx)
		}
		items[idx] = moduleItem{index: idx, title: title, desc: desc}
	}
	a.modules.SetItems(items)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update handles one message.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.modules.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		return a, nil

	case panelOpenedMsg:
		if msg.gen != a.panelGen {
			a.log.Debug("stale panel dropped", zap.Int("module", msg.index))
			return a, nil
		}
		if msg.err != nil {
			a.err = msg.err
			a.state = stateModules
			return a, nil
		}
		a.err = nil
		a.panel = newPanelView(msg.index, msg.panel, msg.controls, a.files)
		a.state = statePanel
		if msg.panel.UpstreamErr != nil {
			a.statusMsg = fmt.Sprintf("upstream data unavailable: %v", msg.panel.UpstreamErr)
		}
		return a, nil

	case terminalMsg:
		if msg.err != nil {
			if errors.Is(msg.err, editor.ErrSuperseded) {
				return a, nil
			}
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.plotText = msg.text
		a.statusMsg = fmt.Sprintf("showing %s", msg.target)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.state == statePanel {
			return a.updatePanel(msg)
		}
		return a.updateModules(msg)
	}
	return a, nil
}

func (a *App) updateModules(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return a, tea.Quit
	case "enter":
		if item, ok := a.modules.SelectedItem().(moduleItem); ok {
			a.statusMsg = fmt.Sprintf("opening module %d", item.index)
			return a, a.openModule(item.index)
		}
		return a, nil
	case "t":
		if item, ok := a.modules.SelectedItem().(moduleItem); ok {
			return a, a.showTerminal(item.index)
		}
		return a, nil
	}
	var cmd tea.Cmd
	a.modules, cmd = a.modules.Update(msg)
	return a, cmd
}

func (a *App) updatePanel(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := a.panel
	if p.editing {
		p.handleEditKey(msg)
		a.statusMsg, a.err = p.status, p.err
		return a, nil
	}
	switch msg.String() {
	case "q", "esc":
		a.state = stateModules
		a.panel = nil
		a.panelGen++
		a.statusMsg = "edits discarded"
		a.refreshModules()
		return a, nil
	case "a":
		if err := a.session.Accept(p.panel); err != nil {
			a.err = err
			return a, nil
		}
		a.log.Info("module config accepted", zap.Int("module", p.index))
		a.statusMsg = fmt.Sprintf("module %d accepted", p.index)
		a.refreshModules()
		return a, a.openModule(p.index)
	case "c":
		if err := a.session.Clear(p.panel); err != nil {
			a.err = err
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("module %d cleared", p.index)
		a.refreshModules()
		return a, a.openModule(p.index)
	}
	p.handleNavKey(msg)
	a.statusMsg, a.err = p.status, p.err
	return a, nil
}

// mountCollector gathers the controls a panel mounts.
type mountCollector struct {
	controls []fieldui.Control
}

func (m *mountCollector) Mount(c fieldui.Control) { m.controls = append(m.controls, c) }

func (a *App) openModule(index int) tea.Cmd {
	a.panelGen++
	ctx, session, gen := a.ctx, a.session, a.panelGen
	return func() tea.Msg {
		target := &mountCollector{}
		panel, err := session.OpenModule(ctx, index, target)
		return panelOpenedMsg{gen: gen, index: index, panel: panel, controls: target.controls, err: err}
	}
}

func (a *App) showTerminal(index int) tea.Cmd {
	tpl := a.session.Template()
	terminal := "output"
	if def, err := a.session.Registry().ModuleDef(tpl.Modules[index].Module); err == nil && len(def.Outputs) > 0 {
		terminal = def.Outputs[0].ID
	}
	target := fmt.Sprintf("%d:%s", index, terminal)
	a.statusMsg = fmt.Sprintf("calculating %s", target)
	ctx, session := a.ctx, a.session
	return func() tea.Msg {
		res, err := session.FetchTerminal(ctx, index, terminal)
		if err != nil {
			return terminalMsg{target: target, err: err}
		}
		r := &textRenderer{}
		kind, err := session.Render(res, r)
		if err != nil {
			return terminalMsg{target: target, err: err}
		}
		if kind == "" {
			return terminalMsg{target: target, text: fmt.Sprintf("%s: %d values, no plot", res.Datatype, len(res.Values))}
		}
		return terminalMsg{target: target, text: r.String()}
	}
}

// View renders the current screen.
func (a *App) View() string {
	var body string
	switch a.state {
	case statePanel:
		body = a.panel.View(max(40, a.width-4))
	default:
		body = a.modules.View()
		if a.plotText != "" {
			body = lipgloss.JoinVertical(lipgloss.Left, body, plotBoxStyle.Render(a.plotText))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, a.renderStatus(), a.renderHelp())
}

func (a *App) renderStatus() string {
	if a.err != nil {
		return errorStyle.Render("✗ " + a.err.Error())
	}
	if a.statusMsg == "" {
		return ""
	}
	return statusStyle.Render(a.statusMsg)
}

func (a *App) renderHelp() string {
	var keys []string
	switch {
	case a.state == statePanel && a.panel.editing:
		keys = []string{"enter commit", "esc cancel"}
	case a.state == statePanel:
		keys = []string{"↑/↓ field", "enter edit", "←/→ choose", "space toggle", "f send files", "a accept", "c clear", "esc back"}
	default:
		keys = []string{"↑/↓ module", "enter configure", "t show output", "q quit"}
	}
	return helpStyle.Render(strings.Join(keys, " · "))
}
