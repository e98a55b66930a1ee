package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/reflweb/internal/fieldui"
	"github.com/kingrea/reflweb/internal/template"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	focusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	checkedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	panelBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	plotBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// panelView displays one open fieldui.Panel. controls mirror what was
// mounted and are updated as edits succeed.
type panelView struct {
	index    int
	panel    *fieldui.Panel
	controls []fieldui.Control
	cursor   int
	// slot is the focused slot of a slots control, or the focused dataset
	// of an index control.
	slot int
	// files is offered to the checked file field on "f".
	files []template.FileRef

	editing bool
	input   textinput.Model

	status string
	err    error
}

func newPanelView(index int, panel *fieldui.Panel, controls []fieldui.Control, files []template.FileRef) *panelView {
	input := textinput.New()
	input.Prompt = "› "
	input.Cursor.SetMode(cursor.CursorStatic)
	return &panelView{index: index, panel: panel, controls: controls, files: files, input: input}
}

func (p *panelView) current() (*fieldui.Control, bool) {
	if p.cursor < 0 || p.cursor >= len(p.controls) {
		return nil, false
	}
	return &p.controls[p.cursor], true
}

func (p *panelView) handleNavKey(msg tea.KeyMsg) {
	p.status, p.err = "", nil
	switch msg.String() {
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
			p.slot = 0
		}
		return
	case "down", "j":
		if p.cursor < len(p.controls)-1 {
			p.cursor++
			p.slot = 0
		}
		return
	case "f":
		p.sendFiles()
		return
	}
	ctl, ok := p.current()
	if !ok {
		return
	}
	switch msg.String() {
	case "enter":
		switch ctl.Kind {
		case fieldui.ControlText, fieldui.ControlNumber, fieldui.ControlJSON:
			p.beginEdit(ctl.Raw)
		case fieldui.ControlSlots:
			p.beginEdit(ctl.Slots[p.slot])
		case fieldui.ControlIndex:
			if ctl.Datasets == 0 {
				p.status = "no upstream datasets to mask"
				return
			}
			p.beginEdit("")
		}
	case "left", "h", "right", "l":
		step := 1
		if s := msg.String(); s == "left" || s == "h" {
			step = -1
		}
		switch ctl.Kind {
		case fieldui.ControlSelect:
			p.cycleOption(ctl, step)
		case fieldui.ControlSlots:
			p.slot = (p.slot + step + len(ctl.Slots)) % len(ctl.Slots)
		case fieldui.ControlIndex:
			if ctl.Datasets > 0 {
				p.slot = (p.slot + step + ctl.Datasets) % ctl.Datasets
			}
		}
	case " ", "space":
		switch ctl.Kind {
		case fieldui.ControlCheckbox:
			if p.apply(ctl.FieldID, fieldui.Check(!ctl.Checked)) {
				ctl.Checked = !ctl.Checked
			}
		case fieldui.ControlRadio:
			if err := p.panel.SelectFileField(ctl.FieldID); err != nil {
				p.err = err
				return
			}
			for i := range p.controls {
				if p.controls[i].Kind == fieldui.ControlRadio {
					p.controls[i].Checked = p.controls[i].FieldID == ctl.FieldID
				}
			}
			p.status = fmt.Sprintf("file selections go to %s", ctl.FieldID)
		}
	}
}

func (p *panelView) cycleOption(ctl *fieldui.Control, step int) {
	if len(ctl.Options) == 0 {
		return
	}
	next := ctl.Selected + step
	if ctl.Selected < 0 {
		next = 0
	}
	next = (next + len(ctl.Options)) % len(ctl.Options)
	if p.apply(ctl.FieldID, fieldui.Input(ctl.Options[next].Raw)) {
		ctl.Selected = next
		ctl.Raw = ctl.Options[next].Raw
	}
}

func (p *panelView) beginEdit(raw string) {
	p.editing = true
	p.input.SetValue(raw)
	p.input.CursorEnd()
	p.input.Focus()
}

func (p *panelView) handleEditKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "esc":
		p.editing = false
		p.input.Blur()
		p.status, p.err = "edit cancelled", nil
		return
	case "enter":
		p.editing = false
		p.input.Blur()
		ctl, ok := p.current()
		if !ok {
			return
		}
		raw := p.input.Value()
		if ctl.Kind == fieldui.ControlIndex {
			p.togglePoint(ctl, raw)
			return
		}
		if ctl.Kind == fieldui.ControlSlots {
			if p.apply(ctl.FieldID, fieldui.SlotInput(p.slot, raw)) {
				p.refreshSlots(ctl)
			}
			return
		}
		if p.apply(ctl.FieldID, fieldui.Input(raw)) {
			ctl.Raw = raw
		}
		return
	}
	p.input, _ = p.input.Update(msg)
}

// togglePoint flips one point of the focused dataset in an index mask.
func (p *panelView) togglePoint(ctl *fieldui.Control, raw string) {
	point, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || point < 0 {
		p.err = fmt.Errorf("tui: %q is not a point index: %w", raw, fieldui.ErrCoerce)
		return
	}
	if p.apply(ctl.FieldID, fieldui.TogglePoint(p.slot, point)) {
		p.status = fmt.Sprintf("%s: toggled point %d of dataset %d", ctl.FieldID, point, p.slot)
	}
}

// sendFiles hands the loaded file list to the checked file field.
func (p *panelView) sendFiles() {
	field, ok := p.panel.FileField()
	if !ok {
		p.status = "module has no file fields"
		return
	}
	if len(p.files) == 0 {
		p.status = "no file list loaded (use --files)"
		return
	}
	if err := p.panel.UpdateFileInfo(p.files); err != nil {
		p.err = err
		return
	}
	for i := range p.controls {
		if p.controls[i].FieldID == field {
			p.controls[i].Label = fmt.Sprintf("%s(%d)", field, len(p.files))
		}
	}
	p.status = fmt.Sprintf("%d files sent to %s", len(p.files), field)
}

// refreshSlots redraws every slot, since the first slot edit expands a
// scalar into all of them.
func (p *panelView) refreshSlots(ctl *fieldui.Control) {
	b, ok := p.panel.Binding(ctl.FieldID)
	if !ok {
		return
	}
	if list, ok := b.Value().([]any); ok {
		for i := range ctl.Slots {
			if i < len(list) {
				ctl.Slots[i] = fmt.Sprint(list[i])
			}
		}
	}
}

// apply routes an event to the panel; coercion errors are shown and the
// previous value stays.
func (p *panelView) apply(fieldID string, ev fieldui.Event) bool {
	if err := p.panel.Change(fieldID, ev); err != nil {
		p.err = err
		return false
	}
	p.status, p.err = fmt.Sprintf("%s updated", fieldID), nil
	return true
}

// View renders the panel.
func (p *panelView) View(width int) string {
	lines := []string{titleStyle.Render(fmt.Sprintf("Module %d · %s", p.index, p.panel.Module.ID))}
	if len(p.controls) == 0 {
		lines = append(lines, skippedStyle.Render("no configurable fields"))
	}
	for i, ctl := range p.controls {
		marker, style := "  ", labelStyle
		if i == p.cursor {
			marker, style = "› ", focusStyle
		}
		line := marker + style.Render(ctl.Label) + " " + p.renderValue(ctl, i == p.cursor)
		lines = append(lines, line)
	}
	if len(p.panel.Skipped) > 0 {
		lines = append(lines, skippedStyle.Render("unsupported: "+strings.Join(p.panel.Skipped, ", ")))
	}
	if p.editing {
		lines = append(lines, p.input.View())
	}
	return panelBoxStyle.Width(max(20, width)).Render(strings.Join(lines, "\n"))
}

func (p *panelView) renderValue(ctl fieldui.Control, focused bool) string {
	switch ctl.Kind {
	case fieldui.ControlCheckbox:
		if ctl.Checked {
			return checkedStyle.Render("[x]")
		}
		return valueStyle.Render("[ ]")
	case fieldui.ControlRadio:
		if ctl.Checked {
			return checkedStyle.Render("(•)")
		}
		return valueStyle.Render("( )")
	case fieldui.ControlSelect:
		var parts []string
		for i, opt := range ctl.Options {
			if i == ctl.Selected {
				parts = append(parts, checkedStyle.Render("<"+opt.Label+">"))
				continue
			}
			parts = append(parts, valueStyle.Render(opt.Label))
		}
		return strings.Join(parts, " ")
	case fieldui.ControlSlots:
		parts := make([]string, len(ctl.Slots))
		for i, raw := range ctl.Slots {
			parts[i] = raw
			if focused && i == p.slot {
				parts[i] = "[" + raw + "]"
			}
		}
		return valueStyle.Render(strings.Join(parts, " "))
	case fieldui.ControlIndex:
		b, ok := p.panel.Binding(ctl.FieldID)
		if !ok {
			return valueStyle.Render(ctl.Raw)
		}
		lists := fieldui.IndexLists(b.Value())
		parts := make([]string, len(lists))
		for i, list := range lists {
			parts[i] = fmt.Sprint(list)
			if focused && i == p.slot {
				parts[i] = "[" + parts[i] + "]"
			}
		}
		return valueStyle.Render(strings.Join(parts, " "))
	default:
		return valueStyle.Render(ctl.Raw)
	}
}
