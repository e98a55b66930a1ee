// Package filetree holds the file-browser tree that decorators annotate.
package filetree

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownNode is returned for ids not present in the tree.
var ErrUnknownNode = errors.New("unknown node")

// Node is a snapshot of one tree node. Attrs carries leaf identity
// (source, filename, entryname, mtime) and decorator output.
type Node struct {
	ID       string
	Parent   string
	Text     string
	Children []string
	Attrs    map[string]any
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is the narrow view decorators get of the file browser.
type Tree interface {
	FlatLeaves() []Node
	Node(id string) (Node, bool)
	Parent(id string) (string, bool)
	SetNodeAttr(id string, attrs map[string]any) error
}

// Memory is a mutex-guarded in-memory Tree.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	roots []string
}

// NewMemory returns an empty tree.
func NewMemory() *Memory {
	return &Memory{nodes: map[string]*Node{}}
}

// Add inserts node under parent ("" for a root).
func (m *Memory) Add(parent string, node Node) error {
	if strings.TrimSpace(node.ID) == "" {
		return fmt.Errorf("filetree: node id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[node.ID]; exists {
		return fmt.Errorf("filetree: duplicate node %s", node.ID)
	}
	if parent != "" {
		p, ok := m.nodes[parent]
		if !ok {
			return fmt.Errorf("filetree: parent %s: %w", parent, ErrUnknownNode)
		}
		p.Children = append(p.Children, node.ID)
	} else {
		m.roots = append(m.roots, node.ID)
	}
	stored := &Node{ID: node.ID, Parent: parent, Text: node.Text, Attrs: copyAttrs(node.Attrs)}
	m.nodes[node.ID] = stored
	return nil
}

// Roots returns the top-level node ids in insertion order.
func (m *Memory) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.roots...)
}

// FlatLeaves returns every leaf in depth-first order.
func (m *Memory) FlatLeaves() []Node {
	var leaves []Node
	m.Walk(func(n Node, _ int) {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
	})
	return leaves
}

type visited struct {
	node  Node
	depth int
}

// Walk visits nodes depth first, parents before children. fn runs on
// snapshots outside the lock so it may call back into the tree.
func (m *Memory) Walk(fn func(n Node, depth int)) {
	m.mu.RLock()
	order := make([]visited, 0, len(m.nodes))
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		n := m.nodes[id]
		order = append(order, visited{n.snapshot(), depth})
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	for _, root := range m.roots {
		visit(root, 0)
	}
	m.mu.RUnlock()
	for _, v := range order {
		fn(v.node, v.depth)
	}
}

// Node returns a snapshot of the node.
func (m *Memory) Node(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.snapshot(), true
}

// Parent returns the parent id; ok is false for roots and unknown ids.
func (m *Memory) Parent(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok || n.Parent == "" {
		return "", false
	}
	return n.Parent, true
}

// SetNodeAttr merges attrs into the node's attributes.
func (m *Memory) SetNodeAttr(id string, attrs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("filetree: %s: %w", id, ErrUnknownNode)
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]any, len(attrs))
	}
	for key, value := range attrs {
		n.Attrs[key] = value
	}
	return nil
}

func (n *Node) snapshot() Node {
	return Node{
		ID:       n.ID,
		Parent:   n.Parent,
		Text:     n.Text,
		Children: append([]string(nil), n.Children...),
		Attrs:    copyAttrs(n.Attrs),
	}
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		out[key] = value
	}
	return out
}
