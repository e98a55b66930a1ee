package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a template from YAML or JSON bytes. Payloads starting with
// '{' or '[' go through encoding/json, since YAML rejects some valid JSON
// escapes. Structural validation against module definitions is left to the
// caller.
func Parse(data []byte) (Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Template{}, fmt.Errorf("template: payload is empty")
	}
	var t Template
	if IsJSON(trimmed) {
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return Template{}, fmt.Errorf("template: decode json: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("template: decode: %w", err)
	}
	if err := t.Validate(nil); err != nil {
		return Template{}, err
	}
	return t, nil
}

// IsJSON reports whether a payload is a JSON document rather than YAML.
func IsJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// LoadReader reads a template from r.
func LoadReader(r io.Reader) (Template, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Template{}, fmt.Errorf("template: read: %w", err)
	}
	return Parse(content)
}

// LoadFile reads a template from disk.
func LoadFile(path string) (Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("template: read %s: %w", path, err)
	}
	t, err := Parse(content)
	if err != nil {
		return Template{}, fmt.Errorf("template: %s: %w", path, err)
	}
	return t, nil
}

// Save writes the template as indented JSON.
func Save(path string, t Template) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("template: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("template: write %s: %w", path, err)
	}
	return nil
}
