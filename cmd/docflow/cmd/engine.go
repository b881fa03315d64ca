package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/cache"
	"github.com/MeKo-Tech/docflow/internal/config"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/ocr/tesseract"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/spf13/afero"
)

// engineFactories maps ocr.engine names to engine constructors. Tests
// register fakes here.
var engineFactories = map[string]ocr.EngineFactory{
	tesseract.EngineName: tesseract.New,
}

// appFs is the filesystem libraries, presets and the cache live on.
var appFs = afero.NewOsFs()

func engineNames() []string {
	names := make([]string, 0, len(engineFactories))
	for name := range engineFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// engine bundles the components one command works with.
type engine struct {
	store    *cache.Store
	explorer *explorer.CachedClient
	session  *ocr.Manager
	coord    *batch.Coordinator
	state    *pipeline.RunState
	runner   *pipeline.Runner
	logger   *slog.Logger
}

// newCacheStore opens the content cache, persisted below cfg.Cache.Dir when
// persistence is on.
func newCacheStore(cfg *config.Config, logger *slog.Logger) (*cache.Store, error) {
	opts := []cache.Option{
		cache.WithFreshness(cfg.CacheFreshness()),
		cache.WithLogger(logger),
	}
	if cfg.Cache.Persist {
		backend, err := cache.NewFileBackend(appFs, cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open cache directory: %w", err)
		}
		opts = append(opts, cache.WithBackend(backend))
	}
	return cache.New(opts...)
}

// newEngine wires cache, explorer, renderer, OCR session, coordinator and
// pipeline from cfg. The OCR session is not initialized.
func newEngine(cfg *config.Config, progress pipeline.ProgressCallback, logger *slog.Logger) (*engine, error) {
	factory, ok := engineFactories[cfg.OCR.Engine]
	if !ok {
		return nil, fmt.Errorf("unknown ocr engine %q (available: %v)", cfg.OCR.Engine, engineNames())
	}
	store, err := newCacheStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Explorer.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	client := explorer.NewCachedClient(explorer.NewFSClient(appFs, root), store, logger)
	renderer := render.NewRenderer(logger)

	session := ocr.NewManager(factory, renderer, cfg.ToOCRConfig(), logger)
	coord := batch.NewCoordinator(session, logger)
	state := pipeline.NewRunState()
	runner := pipeline.NewRunner(state, pipeline.Executors{
		Convert:     pipeline.NewConvertExecutor(client, renderer, render.NewVectorTextExtractor(), logger),
		Recognize:   pipeline.NewRecognizeExecutor(coord, client),
		Postprocess: pipeline.NewPostprocessExecutor(),
	}, progress, logger)

	return &engine{
		store:    store,
		explorer: client,
		session:  session,
		coord:    coord,
		state:    state,
		runner:   runner,
		logger:   logger,
	}, nil
}

// Close releases the OCR engine and the cache.
func (e *engine) Close() error {
	return errors.Join(e.session.Close(), e.store.Dispose())
}

// defaultPreset is the built-in layout with the configured convert and
// postprocess settings.
func defaultPreset(cfg *config.Config) pipeline.Preset {
	p := pipeline.DefaultPreset()
	conv := cfg.ToConvertConfig()
	post := cfg.ToPostprocessConfig()
	for i := range p.Stages {
		switch p.Stages[i].Kind {
		case pipeline.KindConvert:
			p.Stages[i].Convert = &conv
		case pipeline.KindPostprocess:
			p.Stages[i].Postprocess = &post
		}
	}
	return p
}

// loadPreset reads a preset file, or returns the configured default.
func loadPreset(cfg *config.Config, path string) (pipeline.Preset, error) {
	if path == "" {
		return defaultPreset(cfg), nil
	}
	return pipeline.LoadPreset(appFs, path)
}
