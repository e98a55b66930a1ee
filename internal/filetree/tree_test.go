package filetree

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func field(key string) Categorizer {
	return func(info map[string]any) string {
		if v, ok := info[key].(string); ok {
			return v
		}
		return "unknown"
	}
}

func TestBuildGroupsByCategorizers(t *testing.T) {
	entries := []Entry{
		{Info: map[string]any{"sample": "Si", "name": "a"}, Attrs: map[string]any{"filename": "f1"}},
		{Info: map[string]any{"sample": "Si", "name": "b"}, Attrs: map[string]any{"filename": "f2"}},
		{Info: map[string]any{"sample": "Au", "name": "a"}, Attrs: map[string]any{"filename": "f3"}},
		{Info: map[string]any{"sample": "Au", "name": "a"}, Attrs: map[string]any{"filename": "f4"}},
	}
	tree, err := Build(entries, []Categorizer{field("sample"), field("name")})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if diff := cmp.Diff([]string{"Si", "Au"}, tree.Roots()); diff != "" {
		t.Fatalf("roots mismatch:\n%s", diff)
	}
	var ids []string
	for _, leaf := range tree.FlatLeaves() {
		ids = append(ids, leaf.ID)
	}
	if diff := cmp.Diff([]string{"Si/a", "Si/b", "Au/a", "Au/a#2"}, ids); diff != "" {
		t.Fatalf("leaves mismatch:\n%s", diff)
	}
	if parent, ok := tree.Parent("Au/a#2"); !ok || parent != "Au" {
		t.Fatalf("unexpected parent %q", parent)
	}
	if _, ok := tree.Parent("Au"); ok {
		t.Fatalf("roots have no parent")
	}
}

func TestSetNodeAttrMergesAndSnapshots(t *testing.T) {
	tree := NewMemory()
	if err := tree.Add("", Node{ID: "root"}); err != nil {
		t.Fatal(err)
	}
	if err := tree.Add("root", Node{ID: "leaf", Attrs: map[string]any{"source": "ncnr"}}); err != nil {
		t.Fatal(err)
	}
	if err := tree.SetNodeAttr("leaf", map[string]any{"xmin": 1.0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, _ := tree.Node("leaf")
	if n.Attrs["source"] != "ncnr" || n.Attrs["xmin"] != 1.0 {
		t.Fatalf("unexpected attrs %v", n.Attrs)
	}
	n.Attrs["xmin"] = 99.0
	again, _ := tree.Node("leaf")
	if again.Attrs["xmin"] != 1.0 {
		t.Fatalf("snapshot aliased tree storage")
	}
	if err := tree.SetNodeAttr("nope", nil); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	if err := tree.Add("missing", Node{ID: "x"}); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected unknown parent error, got %v", err)
	}
}

func TestBuildKeepsDistinctLabelsApart(t *testing.T) {
	entries := []Entry{
		{Info: map[string]any{"sample": "a/b", "name": "x"}},
		{Info: map[string]any{"sample": "a_b", "name": "x"}},
		{Info: map[string]any{"sample": "a%2Fb", "name": "x"}},
		{Info: map[string]any{"sample": "c", "name": "y#2"}},
		{Info: map[string]any{"sample": "c", "name": "y"}},
		{Info: map[string]any{"sample": "c", "name": "y"}},
	}
	tree, err := Build(entries, []Categorizer{field("sample"), field("name")})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if diff := cmp.Diff([]string{"a%2Fb", "a_b", "a%252Fb", "c"}, tree.Roots()); diff != "" {
		t.Fatalf("roots mismatch:\n%s", diff)
	}
	var ids, texts []string
	for _, leaf := range tree.FlatLeaves() {
		ids = append(ids, leaf.ID)
		texts = append(texts, leaf.Text)
	}
	wantIDs := []string{"a%2Fb/x", "a_b/x", "a%252Fb/x", "c/y%232", "c/y", "c/y#2"}
	if diff := cmp.Diff(wantIDs, ids); diff != "" {
		t.Fatalf("leaf ids mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "x", "x", "y#2", "y", "y"}, texts); diff != "" {
		t.Fatalf("labels must stay unescaped:\n%s", diff)
	}
	root, _ := tree.Node("a%2Fb")
	if root.Text != "a/b" {
		t.Fatalf("root text = %q", root.Text)
	}
}
