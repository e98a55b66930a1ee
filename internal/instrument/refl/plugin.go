package refl

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/logging"
)

// ID is the instrument id this plug-in registers under.
const ID = "ncnr.refl"

// Option customizes the plug-in.
type Option func(*options)

type options struct {
	store *Store
	log   *zap.Logger
}

// WithStore keeps successful loads in store, keyed by file path.
func WithStore(store *Store) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets the logger used by the decorators.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns the reflectometry plug-in backed by client.
func New(client *calc.Client, opts ...Option) instrument.Plugin {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrNop(o.log).With(zap.String("instrument", ID))
	loader := NewLoader(client, o.store)
	return instrument.Plugin{
		ID:           ID,
		Plot:         Plot,
		Categorizers: Categorizers(),
		LoadFile:     loader.Load,
		TreeEntries:  TreeEntries,
		Decorators: []instrument.Decorator{
			{Name: "range", Run: rangeDecorator(loader.Load, log)},
			{Name: "sample_description", Run: sampleDescription(loader.Load, log)},
			{Name: "viewer_link", Run: viewerLink},
		},
	}
}

// Categorizers group files by sample name, intent, file name and
// polarization.
func Categorizers() []filetree.Categorizer {
	return []filetree.Categorizer{
		func(info map[string]any) string { return orDefault(info, "sample/name", "unknown") },
		func(info map[string]any) string { return orDefault(info, "intent", "unknown") },
		func(info map[string]any) string { return orDefault(info, "name", "unknown") },
		func(info map[string]any) string { return orDefault(info, "polarization", "unpolarized") },
	}
}

func orDefault(info map[string]any, path, fallback string) string {
	if s := text(info, path); s != "" {
		return s
	}
	return fallback
}

// Register adds the plug-in to catalog.
func Register(catalog *instrument.Catalog, client *calc.Client, opts ...Option) error {
	if err := catalog.Register(New(client, opts...)); err != nil {
		return fmt.Errorf("refl: %w", err)
	}
	return nil
}
