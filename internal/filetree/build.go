package filetree

import (
	"fmt"
	"strings"
)

// Categorizer maps a dataset's metadata to one grouping label.
type Categorizer func(info map[string]any) string

// Entry is one dataset to place in the tree.
type Entry struct {
	// Info is the dataset metadata read by categorizers.
	Info map[string]any
	// Attrs become the leaf attributes (source, filename, entryname, mtime).
	Attrs map[string]any
}

// Build groups entries into a tree. Each categorizer contributes one level;
// the last label names the leaf. Leaves that would collide get a numeric
// suffix on their id.
func Build(entries []Entry, categorizers []Categorizer) (*Memory, error) {
	tree := NewMemory()
	if len(categorizers) == 0 {
		return nil, fmt.Errorf("filetree: at least one categorizer is required")
	}
	for idx, entry := range entries {
		parent := ""
		for level, categorize := range categorizers {
			label := categorize(entry.Info)
			id := joinID(parent, label)
			last := level == len(categorizers)-1
			if !last {
				if _, exists := tree.Node(id); !exists {
					if err := tree.Add(parent, Node{ID: id, Text: label}); err != nil {
						return nil, fmt.Errorf("filetree: entry %d: %w", idx, err)
					}
				}
				parent = id
				continue
			}
			leafID := id
			for n := 2; ; n++ {
				if _, exists := tree.Node(leafID); !exists {
					break
				}
				leafID = fmt.Sprintf("%s#%d", id, n)
			}
			if err := tree.Add(parent, Node{ID: leafID, Text: label, Attrs: entry.Attrs}); err != nil {
				return nil, fmt.Errorf("filetree: entry %d: %w", idx, err)
			}
		}
	}
	return tree, nil
}

// idEscaper keeps ids injective: "/" separates levels and "#" marks
// collision suffixes, so both are escaped along with the escape character.
var idEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "#", "%23")

func joinID(parent, label string) string {
	label = idEscaper.Replace(label)
	if parent == "" {
		return label
	}
	return parent + "/" + label
}
