package refl

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/ranges"
	"github.com/kingrea/reflweb/internal/template"
)

// Node attributes written by the decorators.
const (
	AttrTitle      = "title"
	AttrViewerLink = "viewer_link"
)

// ViewerURL is the NeXus zip viewer the link decorator points at.
const ViewerURL = "http://ncnr.nist.gov/ipeek/nexus-zip-viewer.html"

// Sources that the zip viewer can open.
const (
	SourceNCNR    = "ncnr"
	SourceNCNRDOI = "ncnr_DOI"
)

func rangeDecorator(load ranges.Loader, log *zap.Logger) func(context.Context, filetree.Tree) error {
	engine := ranges.New(load, ranges.WithLogger(log))
	return func(ctx context.Context, tree filetree.Tree) error {
		report, err := engine.Decorate(ctx, tree)
		if err != nil {
			return err
		}
		log.Debug("range indicators",
			zap.Int("eligible", report.Eligible),
			zap.Int("decorated", report.Decorated),
			zap.Int("failed", report.Failed),
			zap.Int("indicated", report.Indicated),
		)
		return nil
	}
}

// sampleDescription copies sample.description from each leaf's entry into
// the leaf's title and its parent's title.
func sampleDescription(load ranges.Loader, log *zap.Logger) func(context.Context, filetree.Tree) error {
	return func(ctx context.Context, tree filetree.Tree) error {
		var leaves []ranges.Leaf
		for _, n := range tree.FlatLeaves() {
			if leaf, ok := ranges.Eligible(n); ok {
				leaves = append(leaves, leaf)
			}
		}
		if len(leaves) == 0 {
			return nil
		}
		refs := make([]template.FileRef, len(leaves))
		for i, leaf := range leaves {
			refs[i] = leaf.Ref
		}
		outcomes, err := load(ctx, refs, true)
		if err != nil {
			return fmt.Errorf("refl: sample description: %w", err)
		}
		if len(outcomes) != len(leaves) {
			return fmt.Errorf("refl: sample description: %d outcomes for %d leaves", len(outcomes), len(leaves))
		}
		for i, leaf := range leaves {
			if outcomes[i].Err != nil {
				log.Warn("sample description skipped", zap.String("leaf", leaf.ID), zap.Error(outcomes[i].Err))
				continue
			}
			entry, err := ranges.MatchEntry(outcomes[i].Result, leaf.EntryName)
			if err != nil || entry == nil {
				continue
			}
			desc, ok := ranges.Lookup(entry, "sample/description")
			if !ok {
				continue
			}
			title, ok := desc.(string)
			if !ok {
				continue
			}
			if err := tree.SetNodeAttr(leaf.ID, map[string]any{AttrTitle: title}); err != nil {
				return err
			}
			if parent, ok := tree.Parent(leaf.ID); ok {
				if err := tree.SetNodeAttr(parent, map[string]any{AttrTitle: title}); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// viewerLink links each node whose first child is a viewable leaf to the
// NeXus zip viewer for that leaf's file.
func viewerLink(_ context.Context, tree filetree.Tree) error {
	for _, leaf := range tree.FlatLeaves() {
		parentID, ok := tree.Parent(leaf.ID)
		if !ok {
			continue
		}
		parent, ok := tree.Node(parentID)
		if !ok || len(parent.Children) == 0 || parent.Children[0] != leaf.ID {
			continue
		}
		link, ok := ViewerLink(leaf)
		if !ok {
			continue
		}
		if err := tree.SetNodeAttr(parentID, map[string]any{AttrViewerLink: link}); err != nil {
			return err
		}
	}
	return nil
}

// ViewerLink builds the zip viewer URL for a leaf from an ncnr or ncnr_DOI
// source.
func ViewerLink(leaf filetree.Node) (string, bool) {
	source, _ := leaf.Attrs["source"].(string)
	filename, _ := leaf.Attrs["filename"].(string)
	if _, ok := leaf.Attrs["entryname"].(string); !ok || filename == "" {
		return "", false
	}
	fullpath := filename
	switch source {
	case SourceNCNR:
	case SourceNCNRDOI:
		fullpath = "ncnrdata" + fullpath
	default:
		return "", false
	}
	segments := strings.Split(fullpath, "/")
	file := segments[len(segments)-1]
	pathlist := strings.Join(segments[:len(segments)-1], "+")
	return fmt.Sprintf("%s?pathlist=%s&filename=%s", ViewerURL, pathlist, file), true
}
