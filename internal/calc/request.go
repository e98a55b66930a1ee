// Package calc builds calculation requests against a template and dispatches
// them to the external evaluation service.
package calc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/reflweb/internal/template"
)

// ReturnType selects the shape of the values the service returns.
type ReturnType string

const (
	ReturnMetadata  ReturnType = "metadata"
	ReturnPlottable ReturnType = "plottable"
	ReturnExport    ReturnType = "export"
)

// Valid reports whether rt is a known return type.
func (rt ReturnType) Valid() bool {
	switch rt {
	case ReturnMetadata, ReturnPlottable, ReturnExport:
		return true
	}
	return false
}

// Overrides maps a module index to per-field config values that take
// precedence over the template for one request only.
type Overrides map[int]template.ModuleConfig

// Clone deep-copies the overrides.
func (o Overrides) Clone() Overrides {
	if o == nil {
		return nil
	}
	clone := make(Overrides, len(o))
	for idx, cfg := range o {
		clone[idx] = cfg.Clone()
	}
	return clone
}

// Request is one calc_terminal call. Identical requests are idempotent.
type Request struct {
	Template   template.Template `json:"template"`
	Config     Overrides         `json:"config"`
	Node       int               `json:"node"`
	Terminal   string            `json:"terminal"`
	ReturnType ReturnType        `json:"return_type"`
}

// Validate checks the target and return type against the template.
func (r Request) Validate() error {
	if r.Node < 0 || r.Node >= len(r.Template.Modules) {
		return fmt.Errorf("calc: node %d out of range [0,%d)", r.Node, len(r.Template.Modules))
	}
	if strings.TrimSpace(r.Terminal) == "" {
		return fmt.Errorf("calc: terminal is required")
	}
	if !r.ReturnType.Valid() {
		return fmt.Errorf("calc: unknown return type %q", r.ReturnType)
	}
	for idx := range r.Config {
		if idx < 0 || idx >= len(r.Template.Modules) {
			return fmt.Errorf("calc: override for module %d out of range", idx)
		}
	}
	return nil
}

// Clone returns a deep copy so a request can outlive later template edits.
func (r Request) Clone() Request {
	return Request{
		Template:   r.Template.Clone(),
		Config:     r.Config.Clone(),
		Node:       r.Node,
		Terminal:   r.Terminal,
		ReturnType: r.ReturnType,
	}
}

// Key is the cache key: a SHA-256 of the request's canonical JSON. Config
// values are normalized to their decoded JSON form first, so a request keeps
// its key across export and reload even when Go-typed values (ints, FileRef
// lists) come back as numbers and maps.
func (r Request) Key() (string, error) {
	payload, err := canonicalJSON(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("calc: encode request: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("calc: normalize request: %w", err)
	}
	payload, err = json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("calc: encode request: %w", err)
	}
	return payload, nil
}

// Target identifies the node/terminal a request is aimed at.
func (r Request) Target() string {
	return TargetKey(r.Node, r.Terminal)
}

// TargetKey formats a node/terminal pair for stale-result tracking.
func TargetKey(node int, terminal string) string {
	return fmt.Sprintf("%d:%s", node, terminal)
}

// Response is the raw service reply.
type Response struct {
	Datatype string            `json:"datatype"`
	Values   []json.RawMessage `json:"values"`
}

// Result pairs a service response with the request that produced it.
type Result struct {
	Request  Request
	Datatype string
	Values   []json.RawMessage
}

// Decode unmarshals the value list into dst.
func (r *Result) Decode(dst any) error {
	payload, err := json.Marshal(r.Values)
	if err != nil {
		return fmt.Errorf("calc: encode values: %w", err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("calc: decode %s values: %w", r.Datatype, err)
	}
	return nil
}

// Metadata decodes one object per value.
func (r *Result) Metadata() ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(r.Values))
	for idx, raw := range r.Values {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("calc: metadata value %d: %w", idx, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// ExportBlocks returns the joined rows of each exported value. String values
// are used as is; anything else is re-encoded as JSON.
func (r *Result) ExportBlocks() []string {
	blocks := make([]string, len(r.Values))
	for idx, raw := range r.Values {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			blocks[idx] = text
			continue
		}
		blocks[idx] = string(raw)
	}
	return blocks
}

func newResult(req Request, resp *Response) *Result {
	return &Result{Request: req, Datatype: resp.Datatype, Values: resp.Values}
}
