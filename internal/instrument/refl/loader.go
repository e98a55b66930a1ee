package refl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/template"
)

// Loader template identity.
const (
	LoaderModule     = "ncnr.refl.ncnr_load.cached"
	LoaderVersion    = "0.1"
	LoaderInstrument = "ncnr.magik"
)

// LoaderTemplate is the single-module template used to fetch file metadata.
func LoaderTemplate() template.Template {
	return template.Template{
		Name:        "loader_template",
		Description: "ReflData remote loader",
		Modules:     []template.Module{{Module: LoaderModule, Version: LoaderVersion, Config: template.ModuleConfig{}}},
		Wires:       []template.Wire{},
		Instrument:  LoaderInstrument,
		Version:     "0.0",
	}
}

// LoadRequest builds the metadata request for one file.
func LoadRequest(ref template.FileRef) calc.Request {
	return calc.Request{
		Template:   LoaderTemplate(),
		Config:     calc.Overrides{0: {"filelist": []template.FileRef{ref}}},
		Node:       0,
		Terminal:   "output",
		ReturnType: calc.ReturnMetadata,
	}
}

// Store keeps the last successful load result per file path.
type Store struct {
	mu     sync.RWMutex
	byPath map[string]*calc.Result
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byPath: map[string]*calc.Result{}}
}

// Get returns the stored result for path.
func (s *Store) Get(path string) (*calc.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.byPath[path]
	return res, ok
}

func (s *Store) put(path string, res *calc.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath[path] = res
}

// Loader fetches file metadata through the loader template.
type Loader struct {
	client *calc.Client
	store  *Store
}

// NewLoader returns a loader; store may be nil.
func NewLoader(client *calc.Client, store *Store) *Loader {
	return &Loader{client: client, store: store}
}

// Load issues one request per ref and stamps every returned value with the
// ref's mtime. Outcomes line up with refs.
func (l *Loader) Load(ctx context.Context, refs []template.FileRef, noblock bool) ([]calc.Outcome, error) {
	reqs := make([]calc.Request, len(refs))
	for i, ref := range refs {
		reqs[i] = LoadRequest(ref)
	}
	outcomes, err := l.client.Calculate(ctx, reqs, noblock)
	if err != nil {
		return nil, fmt.Errorf("refl: load: %w", err)
	}
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != nil || o.Result == nil {
			continue
		}
		if err := stampMtime(o.Result, refs[i].Mtime); err != nil {
			o.Result, o.Err = nil, fmt.Errorf("refl: %s: %w", refs[i].Path, err)
			continue
		}
		if l.store != nil {
			l.store.put(refs[i].Path, o.Result)
		}
	}
	return outcomes, nil
}

func stampMtime(res *calc.Result, mtime int64) error {
	stamped := make([]json.RawMessage, len(res.Values))
	for i, raw := range res.Values {
		var value map[string]any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		if value == nil {
			value = map[string]any{}
		}
		value["mtime"] = mtime
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		stamped[i] = encoded
	}
	res.Values = stamped
	return nil
}

// TreeEntries turns loaded files into file-tree entries, one per metadata
// value. Failed loads are skipped.
func TreeEntries(refs []template.FileRef, outcomes []calc.Outcome) ([]filetree.Entry, error) {
	var entries []filetree.Entry
	for i, o := range outcomes {
		if o.Err != nil || o.Result == nil || i >= len(refs) {
			continue
		}
		values, err := o.Result.Metadata()
		if err != nil {
			return nil, fmt.Errorf("refl: %s: %w", refs[i].Path, err)
		}
		for _, v := range values {
			entries = append(entries, filetree.Entry{
				Info: v,
				Attrs: map[string]any{
					"source":    refs[i].Source,
					"filename":  refs[i].Path,
					"entryname": text(v, "entry"),
					"mtime":     refs[i].Mtime,
				},
			})
		}
	}
	return entries, nil
}
