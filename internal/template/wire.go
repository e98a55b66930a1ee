package template

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Wire connects an output terminal to an input terminal.
type Wire struct {
	Source TerminalRef `json:"source" yaml:"source"`
	Target TerminalRef `json:"target" yaml:"target"`
}

// TerminalRef addresses a terminal by module index and terminal id. It is
// encoded as the two-element array [index, "terminal"].
type TerminalRef struct {
	Module   int
	Terminal string
}

func (r TerminalRef) String() string {
	return fmt.Sprintf("%d.%s", r.Module, r.Terminal)
}

// MarshalJSON encodes the ref as [index, terminal].
func (r TerminalRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Module, r.Terminal})
}

// UnmarshalJSON decodes [index, terminal].
func (r *TerminalRef) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("terminal ref: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("terminal ref: expected [index, terminal], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.Module); err != nil {
		return fmt.Errorf("terminal ref index: %w", err)
	}
	if err := json.Unmarshal(raw[1], &r.Terminal); err != nil {
		return fmt.Errorf("terminal ref terminal: %w", err)
	}
	return nil
}

// MarshalYAML encodes the ref as a flow sequence.
func (r TerminalRef) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	node.Content = []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(r.Module)},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: r.Terminal},
	}
	return node, nil
}

// UnmarshalYAML decodes [index, terminal].
func (r *TerminalRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 2 {
		return fmt.Errorf("terminal ref: expected [index, terminal] at line %d", value.Line)
	}
	if err := value.Content[0].Decode(&r.Module); err != nil {
		return fmt.Errorf("terminal ref index: %w", err)
	}
	if err := value.Content[1].Decode(&r.Terminal); err != nil {
		return fmt.Errorf("terminal ref terminal: %w", err)
	}
	return nil
}
