package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/reflweb/internal/template"
)

// Datatype enumerates the field kinds a module can declare. The string values
// are the names used on the wire by the evaluation service.
type Datatype string

const (
	DatatypeString      Datatype = "str"
	DatatypeOption      Datatype = "opt"
	DatatypeFloat       Datatype = "float"
	DatatypeFloatExpand Datatype = "float_expand"
	DatatypeInt         Datatype = "int"
	DatatypeBool        Datatype = "bool"
	DatatypeFileInfo    Datatype = "fileinfo"
	DatatypeIndex       Datatype = "index"
)

// Known reports whether d is one of the supported datatypes.
func (d Datatype) Known() bool {
	switch d {
	case DatatypeString, DatatypeOption, DatatypeFloat, DatatypeFloatExpand,
		DatatypeInt, DatatypeBool, DatatypeFileInfo, DatatypeIndex:
		return true
	}
	return false
}

// InstrumentDef is the instrument description returned by the evaluation
// service (or a local definition directory).
type InstrumentDef struct {
	ID        string                       `json:"id" yaml:"id"`
	Name      string                       `json:"name,omitempty" yaml:"name,omitempty"`
	Modules   []ModuleDef                  `json:"modules" yaml:"modules"`
	Templates map[string]template.Template `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// Validate ensures module ids are present and unique.
func (def InstrumentDef) Validate() error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("registry: instrument id is required")
	}
	seen := make(map[string]struct{}, len(def.Modules))
	for idx, m := range def.Modules {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("registry: instrument %s module[%d]: %w", def.ID, idx, err)
		}
		if _, exists := seen[m.ID]; exists {
			return fmt.Errorf("registry: instrument %s: duplicate module id %s", def.ID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// ModuleDef declares one module's terminals and configurable fields. It is
// immutable once loaded.
type ModuleDef struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string     `json:"version,omitempty" yaml:"version,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []Terminal `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []Terminal `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Fields      []FieldDef `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Validate checks ids on the module, its terminals and fields.
func (m ModuleDef) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("module id is required")
	}
	for idx, term := range m.Inputs {
		if term.ID == "" {
			return fmt.Errorf("module %s inputs[%d]: terminal id is required", m.ID, idx)
		}
	}
	for idx, term := range m.Outputs {
		if term.ID == "" {
			return fmt.Errorf("module %s outputs[%d]: terminal id is required", m.ID, idx)
		}
	}
	seen := make(map[string]struct{}, len(m.Fields))
	for idx, f := range m.Fields {
		if f.ID == "" {
			return fmt.Errorf("module %s fields[%d]: field id is required", m.ID, idx)
		}
		if _, exists := seen[f.ID]; exists {
			return fmt.Errorf("module %s: duplicate field id %s", m.ID, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// FirstInput returns the id of the first declared input terminal, if any.
func (m ModuleDef) FirstInput() (string, bool) {
	if len(m.Inputs) == 0 {
		return "", false
	}
	return m.Inputs[0].ID, true
}

// Field looks up a field definition by id.
func (m ModuleDef) Field(id string) (FieldDef, bool) {
	for _, f := range m.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Terminal is a named input or output port.
type Terminal struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Datatype string `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	Multiple bool   `json:"multiple,omitempty" yaml:"multiple,omitempty"`
}

// FieldDef describes one configurable parameter of a module.
type FieldDef struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label,omitempty" yaml:"label,omitempty"`
	Datatype Datatype `json:"datatype" yaml:"datatype"`
	Default  any      `json:"default,omitempty" yaml:"default,omitempty"`
	Multiple bool     `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	TypeAttr TypeAttr `json:"typeattr,omitempty" yaml:"typeattr,omitempty"`
}

// DisplayLabel falls back to the id when no label is declared.
func (f FieldDef) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

// TypeAttr carries datatype-specific metadata.
type TypeAttr struct {
	Choices []Choice `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Choice is one option of an "opt" field. It is encoded as [label, value].
type Choice struct {
	Label string
	Value any
}

// MarshalJSON encodes the choice as [label, value].
func (c Choice) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Label, c.Value})
}

// UnmarshalJSON accepts [label, value] or a bare value used as both.
func (c *Choice) UnmarshalJSON(data []byte) error {
	var pair []any
	if err := json.Unmarshal(data, &pair); err == nil {
		return c.fromPair(pair)
	}
	var single any
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("choice: %w", err)
	}
	c.Label, c.Value = fmt.Sprint(single), single
	return nil
}

// UnmarshalYAML accepts [label, value] or a bare scalar.
func (c *Choice) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []any
		if err := value.Decode(&pair); err != nil {
			return fmt.Errorf("choice: %w", err)
		}
		return c.fromPair(pair)
	}
	var single any
	if err := value.Decode(&single); err != nil {
		return fmt.Errorf("choice: %w", err)
	}
	c.Label, c.Value = fmt.Sprint(single), single
	return nil
}

func (c *Choice) fromPair(pair []any) error {
	if len(pair) != 2 {
		return fmt.Errorf("choice: expected [label, value], got %d elements", len(pair))
	}
	c.Label, c.Value = fmt.Sprint(pair[0]), pair[1]
	return nil
}
