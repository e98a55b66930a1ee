package fieldui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/internal/template"
)

// Context is what a renderer sees of the module being configured.
type Context struct {
	Template template.Template
	Index    int
	Module   registry.ModuleDef
	// Upstream is the metadata on the module's first input, nil when absent.
	Upstream *calc.Result
}

// Current returns a copy of the field's configured value, or its default.
func (rc Context) Current(f registry.FieldDef) any {
	if v, ok := rc.Template.ModuleConfigValue(rc.Index, f.ID); ok {
		return template.CloneValue(v)
	}
	return template.CloneValue(f.Default)
}

// Datasets is the number of upstream datasets.
func (rc Context) Datasets() int {
	if rc.Upstream == nil {
		return 0
	}
	return len(rc.Upstream.Values)
}

// Renderer builds the binding for one datatype.
type Renderer interface {
	Render(f registry.FieldDef, rc Context) *Binding
	// NeedsUpstream reports whether Render reads upstream metadata.
	NeedsUpstream(f registry.FieldDef) bool
}

var renderers = map[registry.Datatype]Renderer{
	registry.DatatypeString:      textRenderer{},
	registry.DatatypeOption:      optionRenderer{},
	registry.DatatypeFloat:       floatRenderer{},
	registry.DatatypeFloatExpand: floatRenderer{expand: true},
	registry.DatatypeInt:         intRenderer{},
	registry.DatatypeBool:        boolRenderer{},
	registry.DatatypeFileInfo:    fileInfoRenderer{},
	registry.DatatypeIndex:       indexRenderer{},
}

// RendererFor returns the renderer registered for a datatype.
func RendererFor(dt registry.Datatype) (Renderer, bool) {
	r, ok := renderers[dt]
	return r, ok
}

type textRenderer struct{}

func (textRenderer) NeedsUpstream(registry.FieldDef) bool { return false }

func (textRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	value := rc.Current(f)
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlText, Raw: rawText(value)},
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			if ev.Kind != EventInput {
				return nil, coerceErr("text field got event %d", ev.Kind)
			}
			return ev.Raw, nil
		},
	}
}

type optionRenderer struct{}

func (optionRenderer) NeedsUpstream(registry.FieldDef) bool { return false }

func (optionRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	value := rc.Current(f)
	current := rawText(value)
	choices := f.TypeAttr.Choices
	ctl := Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlSelect, Raw: current, Selected: -1}
	for idx, c := range choices {
		raw := rawText(c.Value)
		ctl.Options = append(ctl.Options, Option{Label: c.Label, Raw: raw})
		if ctl.Selected < 0 && raw == current {
			ctl.Selected = idx
		}
	}
	return &Binding{
		ID:      f.ID,
		Control: ctl,
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			if ev.Kind != EventInput {
				return nil, coerceErr("option field got event %d", ev.Kind)
			}
			for _, c := range choices {
				if rawText(c.Value) == ev.Raw {
					return template.CloneValue(c.Value), nil
				}
			}
			return nil, coerceErr("%q is not a choice", ev.Raw)
		},
	}
}

type floatRenderer struct {
	expand bool
}

func (r floatRenderer) NeedsUpstream(f registry.FieldDef) bool {
	return r.expand && !f.Multiple
}

func (r floatRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	value := rc.Current(f)
	if f.Multiple {
		return jsonBinding(f, value)
	}
	n := rc.Datasets()
	if !r.expand || n == 0 {
		return &Binding{
			ID:      f.ID,
			Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlNumber, Raw: rawText(value)},
			value:   value,
			coerce: func(_ any, ev Event) (any, error) {
				if ev.Kind != EventInput {
					return nil, coerceErr("number field got event %d", ev.Kind)
				}
				return parseFloat(ev.Raw)
			},
		}
	}
	slots := make([]string, n)
	for i := range slots {
		if list, ok := asList(value); ok {
			if i < len(list) {
				slots[i] = rawText(list[i])
			}
			continue
		}
		slots[i] = rawText(value)
	}
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlSlots, Slots: slots},
		value:   value,
		coerce: func(prev any, ev Event) (any, error) {
			if ev.Kind != EventSlot {
				return nil, coerceErr("expanded field got event %d", ev.Kind)
			}
			if ev.Slot < 0 || ev.Slot >= n {
				return nil, coerceErr("slot %d out of range [0,%d)", ev.Slot, n)
			}
			v, err := parseFloat(ev.Raw)
			if err != nil {
				return nil, err
			}
			return expandSlot(prev, n, ev.Slot, v.(float64)), nil
		},
	}
}

// expandSlot sets slot i, first expanding a scalar into n copies of itself.
func expandSlot(prev any, n, i int, v float64) []any {
	list, ok := asList(prev)
	if !ok {
		list = make([]any, n)
		for j := range list {
			list[j] = prev
		}
	}
	if len(list) < n {
		list = append(list, make([]any, n-len(list))...)
	}
	list[i] = v
	return list
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return append([]any(nil), list...), true
	case []float64:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func parseFloat(raw string) (any, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, coerceErr("%q is not a number", raw)
	}
	return v, nil
}

func jsonBinding(f registry.FieldDef, value any) *Binding {
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlJSON, Raw: jsonText(value)},
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			if ev.Kind != EventInput {
				return nil, coerceErr("json field got event %d", ev.Kind)
			}
			var v any
			if err := json.Unmarshal([]byte(ev.Raw), &v); err != nil {
				return nil, coerceErr("invalid JSON: %v", err)
			}
			return v, nil
		},
	}
}

type intRenderer struct{}

func (intRenderer) NeedsUpstream(registry.FieldDef) bool { return false }

func (intRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	value := rc.Current(f)
	if f.Multiple {
		return jsonBinding(f, value)
	}
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlNumber, Raw: rawText(value)},
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			if ev.Kind != EventInput {
				return nil, coerceErr("integer field got event %d", ev.Kind)
			}
			v, err := strconv.Atoi(strings.TrimSpace(ev.Raw))
			if err != nil {
				return nil, coerceErr("%q is not an integer", ev.Raw)
			}
			return v, nil
		},
	}
}

type boolRenderer struct{}

func (boolRenderer) NeedsUpstream(registry.FieldDef) bool { return false }

func (boolRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	value := rc.Current(f)
	checked, _ := value.(bool)
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlCheckbox, Checked: checked},
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			switch ev.Kind {
			case EventCheck:
				return ev.Checked, nil
			case EventInput:
				b, err := strconv.ParseBool(strings.TrimSpace(ev.Raw))
				if err != nil {
					return nil, coerceErr("%q is not a boolean", ev.Raw)
				}
				return b, nil
			default:
				return nil, coerceErr("boolean field got event %d", ev.Kind)
			}
		},
	}
}

type fileInfoRenderer struct{}

func (fileInfoRenderer) NeedsUpstream(registry.FieldDef) bool { return false }

func (fileInfoRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	var value any = []template.FileRef{}
	count := 0
	if v, ok := rc.Template.ModuleConfigValue(rc.Index, f.ID); ok && v != nil {
		value = template.CloneValue(v)
		count = fileCount(v)
	}
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: fmt.Sprintf("%s(%d)", f.ID, count), Kind: ControlRadio},
		value:   value,
		coerce: func(_ any, ev Event) (any, error) {
			if ev.Kind != EventFiles {
				return nil, coerceErr("file field got event %d", ev.Kind)
			}
			return append([]template.FileRef{}, ev.Files...), nil
		},
	}
}

func fileCount(v any) int {
	switch list := v.(type) {
	case []template.FileRef:
		return len(list)
	case []any:
		return len(list)
	default:
		return 0
	}
}

type indexRenderer struct{}

func (indexRenderer) NeedsUpstream(registry.FieldDef) bool { return true }

func (indexRenderer) Render(f registry.FieldDef, rc Context) *Binding {
	n := rc.Datasets()
	var lists [][]int
	if v, ok := rc.Template.ModuleConfigValue(rc.Index, f.ID); ok {
		lists = IndexLists(v)
	}
	for len(lists) < n {
		lists = append(lists, []int{})
	}
	return &Binding{
		ID:      f.ID,
		Control: Control{FieldID: f.ID, Label: f.DisplayLabel(), Kind: ControlIndex, Raw: jsonText(lists), Datasets: len(lists)},
		value:   lists,
		coerce: func(prev any, ev Event) (any, error) {
			if ev.Kind != EventToggle {
				return nil, coerceErr("index field got event %d", ev.Kind)
			}
			cur := IndexLists(prev)
			if ev.Dataset < 0 || ev.Dataset >= max(n, len(cur)) {
				return nil, coerceErr("dataset %d out of range", ev.Dataset)
			}
			if ev.Point < 0 {
				return nil, coerceErr("point %d out of range", ev.Point)
			}
			for len(cur) <= ev.Dataset {
				cur = append(cur, []int{})
			}
			cur[ev.Dataset] = ToggleIndex(cur[ev.Dataset], ev.Point)
			return cur, nil
		},
	}
}
