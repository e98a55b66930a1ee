package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/cache"
	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/config"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/instrument/refl"
	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/registry"
	"github.com/kingrea/reflweb/plugins"
)

type rootOptions struct {
	projectDir string
	instrument string
	noCache    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "reflweb",
		Short: "Edit and evaluate reflectometry reduction templates",
		Long: `reflweb edits data-reduction templates (graphs of processing modules
joined by wires), configures module fields, and asks the evaluation service
to compute any module terminal.

Project settings live in .reflweb/config.yaml.`,
		SilenceUsage: true,
	}
	cwd, _ := os.Getwd()
	cmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "p", cwd, "project directory")
	cmd.PersistentFlags().StringVarP(&opts.instrument, "instrument", "i", "", "instrument id (default from config)")
	cmd.PersistentFlags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")

	cmd.AddCommand(
		newValidateCmd(opts),
		newCalcCmd(opts),
		newReplayCmd(opts),
		newConfigureCmd(opts),
		newDecorateCmd(opts),
		newUseCmd(opts),
	)
	return cmd
}

// runtime is everything a command needs, built from the project config.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *calc.Client
	source  registry.Source
	catalog *instrument.Catalog
	closers []func() error
}

func setup(opts *rootOptions) (*runtime, error) {
	if err := config.InitDir(opts.projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.projectDir)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log}
	rt.closers = append(rt.closers, func() error {
		_ = log.Sync()
		return nil
	})

	settings := calc.SettingsFromConfig(cfg)
	service := calc.NewHTTPService(settings, calc.WithHTTPLogger(log))
	clientOpts := []calc.Option{calc.WithMaxParallel(settings.MaxParallel), calc.WithLogger(log)}
	if path := cfg.CachePath(); path != "" && !opts.noCache {
		store, err := cache.OpenSQLite(path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		if maxAge := cfg.Project.Cache.MaxAge; maxAge > 0 {
			removed, err := store.Prune(context.Background(), maxAge)
			if err != nil {
				log.Warn("cache prune failed", zap.Error(err))
			} else if removed > 0 {
				log.Debug("pruned cached responses", zap.Int64("removed", removed), zap.Duration("max_age", maxAge))
			}
		}
		clientOpts = append(clientOpts, calc.WithCache(store))
	}
	rt.client = calc.NewClient(service, clientOpts...)

	rt.source = service
	if dir := cfg.InstrumentsDir(); dir != "" {
		rt.source = plugins.NewDirSource(dir)
		log.Info("using local instrument definitions", zap.String("dir", dir))
	}

	rt.catalog = instrument.NewCatalog()
	if err := refl.Register(rt.catalog, rt.client, refl.WithLogger(log), refl.WithStore(refl.NewStore())); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) instrumentID(opts *rootOptions) string {
	if opts.instrument != "" {
		return opts.instrument
	}
	return rt.cfg.Instrument()
}

func (rt *runtime) loadRegistry(ctx context.Context, instrumentID string) (*registry.Registry, error) {
	reg := registry.New(rt.source)
	if err := reg.LoadInstrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	return reg, nil
}

// Close releases the cache and flushes the log.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reflweb: close: %w", err)
	}
	return nil
}
