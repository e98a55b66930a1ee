// Package fieldui turns module field definitions into declarative controls
// bound to editable values, and writes accepted values back into a template.
package fieldui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kingrea/reflweb/internal/template"
)

// ErrCoerce is returned when a raw control value cannot be converted to the
// field's datatype. The binding keeps its previous value.
var ErrCoerce = errors.New("cannot coerce field value")

// ControlKind names the widget a renderer asks for.
type ControlKind string

const (
	ControlText     ControlKind = "text"
	ControlNumber   ControlKind = "number"
	ControlJSON     ControlKind = "json"
	ControlSelect   ControlKind = "select"
	ControlCheckbox ControlKind = "checkbox"
	ControlRadio    ControlKind = "radio"
	ControlSlots    ControlKind = "slots"
	ControlIndex    ControlKind = "index"
)

// Option is one entry of a select control. Raw is what the control reports
// back when the option is chosen.
type Option struct {
	Label string
	Raw   string
}

// Control is the declarative description of one rendered field.
type Control struct {
	FieldID  string
	Label    string
	Kind     ControlKind
	Raw      string
	Checked  bool
	Options  []Option
	Selected int
	// Slots holds one raw value per upstream dataset for slot controls.
	Slots []string
	// Datasets is the number of per-dataset index lists for index controls.
	Datasets int
}

// EventKind says which part of a control changed.
type EventKind int

const (
	EventInput EventKind = iota
	EventCheck
	EventSlot
	EventToggle
	EventFiles
)

// Event is the change notification a control emits.
type Event struct {
	Kind    EventKind
	Raw     string
	Checked bool
	Slot    int
	Dataset int
	Point   int
	Files   []template.FileRef
}

// Input reports a new raw text value.
func Input(raw string) Event { return Event{Kind: EventInput, Raw: raw} }

// Check reports a checkbox state.
func Check(checked bool) Event { return Event{Kind: EventCheck, Checked: checked} }

// SlotInput reports a new raw value for one slot of an expanded field.
func SlotInput(slot int, raw string) Event { return Event{Kind: EventSlot, Slot: slot, Raw: raw} }

// TogglePoint reports a click on one point of one dataset.
func TogglePoint(dataset, point int) Event {
	return Event{Kind: EventToggle, Dataset: dataset, Point: point}
}

// Files reports a file selection from the file browser.
func Files(refs []template.FileRef) Event {
	return Event{Kind: EventFiles, Files: append([]template.FileRef(nil), refs...)}
}

type coerceFunc func(prev any, ev Event) (any, error)

// Binding is the ephemeral value behind one control. It lives only while the
// panel is open.
type Binding struct {
	ID      string
	Control Control
	value   any
	coerce  coerceFunc
}

// Value returns a copy of the current bound value.
func (b *Binding) Value() any {
	return template.CloneValue(b.value)
}

// Handle applies a change event. A failed coercion leaves the value as it
// was.
func (b *Binding) Handle(ev Event) error {
	next, err := b.coerce(template.CloneValue(b.value), ev)
	if err != nil {
		return fmt.Errorf("fieldui: %s: %w", b.ID, err)
	}
	b.value = next
	return nil
}

func coerceErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCoerce, fmt.Sprintf(format, args...))
}

func rawText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	}
}

func jsonText(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}
