package calc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/reflweb/internal/template"
)

// Header records the provenance of an exported file.
type Header struct {
	Template template.Template `json:"template"`
	Node     int               `json:"node"`
	Terminal string            `json:"terminal"`
}

// Request rebuilds the export request that produced the file.
func (h Header) Request() Request {
	return Request{
		Template:   h.Template.Clone(),
		Node:       h.Node,
		Terminal:   h.Terminal,
		ReturnType: ReturnExport,
	}
}

// HeaderOf derives the export header from a request.
func HeaderOf(req Request) Header {
	return Header{Template: req.Template.Clone(), Node: req.Node, Terminal: req.Terminal}
}

// FormatExport renders "#" + header JSON on the first line followed by the
// blocks separated by blank lines.
func FormatExport(h Header, blocks []string) (string, error) {
	header, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("calc: encode export header: %w", err)
	}
	var b strings.Builder
	b.WriteByte('#')
	b.Write(header)
	b.WriteByte('\n')
	b.WriteString(strings.Join(blocks, "\n\n"))
	return b.String(), nil
}

// ParseExport splits an export payload into its header and blocks. Blocks
// are separated by a blank line, so a block that itself contains a blank
// line comes back as two blocks; the header still rebuilds the request.
func ParseExport(text string) (Header, []string, error) {
	first, rest, _ := strings.Cut(text, "\n")
	if !strings.HasPrefix(first, "#") {
		return Header{}, nil, fmt.Errorf("calc: export payload has no header line")
	}
	var h Header
	if err := json.Unmarshal([]byte(strings.TrimPrefix(first, "#")), &h); err != nil {
		return Header{}, nil, fmt.Errorf("calc: decode export header: %w", err)
	}
	if rest == "" {
		return h, nil, nil
	}
	return h, strings.Split(rest, "\n\n"), nil
}

// Export renders the result as an export file with its provenance header.
func (r *Result) Export() (string, error) {
	return FormatExport(HeaderOf(r.Request), r.ExportBlocks())
}
