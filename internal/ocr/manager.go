package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/metrics"
	"github.com/MeKo-Tech/docflow/internal/render"
)

// Config configures a Manager.
type Config struct {
	Engine EngineConfig
	// Render holds the recognition rendering settings.
	Render render.Options
	// PageTimeout bounds each engine call. Zero disables the deadline.
	PageTimeout time.Duration
}

// DefaultConfig renders at the fixed recognition resolution with no page deadline.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{Name: "tesseract", Language: "eng", DPI: render.RecognitionDPI},
		Render: render.RecognitionOptions(),
	}
}

// StateListener is notified after every state transition.
type StateListener func(state State, err error)

// Manager owns one long-lived engine instance and runs at most one
// recognition call at a time.
type Manager struct {
	factory    EngineFactory
	rasterizer render.Rasterizer
	cfg        Config
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	lastErr   error
	engine    Engine
	cancel    context.CancelFunc
	listeners []StateListener

	// inflight serializes RecognizeDocument and engine replacement.
	inflight sync.Mutex
}

// NewManager creates a manager in the Uninitialized state.
func NewManager(factory EngineFactory, rasterizer render.Rasterizer, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Render.DPI == 0 {
		cfg.Render = render.RecognitionOptions()
	}
	m := &Manager{
		factory:    factory,
		rasterizer: rasterizer,
		cfg:        cfg,
		logger:     logger,
		state:      StateUninitialized,
	}
	m.publishState(StateUninitialized)
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that moved the manager into StateError, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnStateChange registers a listener for state transitions.
func (m *Manager) OnStateChange(fn StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Busy reports whether a recognition call is in flight.
func (m *Manager) Busy() bool {
	if m.inflight.TryLock() {
		m.inflight.Unlock()
		return false
	}
	return true
}

// Initialize constructs the engine. Calling it on a ready manager is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}
	m.inflight.Lock()
	defer m.inflight.Unlock()
	if m.State() == StateReady {
		return nil
	}
	return m.initialize(ctx)
}

// Reinitialize cancels any in-flight call, closes the current engine and
// builds a new one.
func (m *Manager) Reinitialize(ctx context.Context) error {
	m.Cancel()
	m.inflight.Lock()
	defer m.inflight.Unlock()
	m.closeEngine()
	return m.initialize(ctx)
}

// Close releases the engine and returns the manager to Uninitialized.
func (m *Manager) Close() error {
	m.Cancel()
	m.inflight.Lock()
	defer m.inflight.Unlock()
	err := m.closeEngine()
	m.transition(StateUninitialized, nil)
	return err
}

// Cancel aborts the in-flight recognition call, if any.
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// initialize must be called with inflight held.
func (m *Manager) initialize(ctx context.Context) error {
	m.transition(StateInitializing, nil)
	engine, err := m.factory(ctx, m.cfg.Engine)
	if err != nil {
		err = fmt.Errorf("initialize engine %q: %w", m.cfg.Engine.Name, err)
		m.logger.Error("OCR engine initialization failed", "engine", m.cfg.Engine.Name, "error", err)
		m.transition(StateError, err)
		return err
	}
	m.mu.Lock()
	m.engine = engine
	m.mu.Unlock()
	m.logger.Info("OCR engine ready", "engine", engine.Name(), "language", m.cfg.Engine.Language)
	m.transition(StateReady, nil)
	return nil
}

func (m *Manager) closeEngine() error {
	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.mu.Unlock()
	if engine == nil {
		return nil
	}
	if err := engine.Close(); err != nil {
		m.logger.Warn("closing OCR engine failed", "error", err)
		return err
	}
	return nil
}

func (m *Manager) transition(state State, err error) {
	m.mu.Lock()
	m.state = state
	m.lastErr = err
	listeners := append([]StateListener(nil), m.listeners...)
	m.mu.Unlock()
	m.publishState(state)
	for _, fn := range listeners {
		fn(state, err)
	}
}

func (m *Manager) publishState(state State) {
	for _, s := range States() {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.SessionState.WithLabelValues(string(s)).Set(v)
	}
}

// RecognizeDocument rasterizes src and recognizes its pages in order.
// onProgress may be nil. It fails with ErrEngineNotReady unless the manager
// is ready and with ErrBusy while another call is in flight.
func (m *Manager) RecognizeDocument(ctx context.Context, src Source, onProgress ProgressFunc) (*Result, error) {
	if m.State() != StateReady {
		return nil, ErrEngineNotReady
	}
	if !m.inflight.TryLock() {
		return nil, ErrBusy
	}
	defer m.inflight.Unlock()

	m.mu.Lock()
	engine := m.engine
	if engine == nil || m.state != StateReady {
		m.mu.Unlock()
		return nil, ErrEngineNotReady
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel()
	}()

	if onProgress == nil {
		onProgress = func(float64) {}
	}

	start := time.Now()
	pages, err := m.recognizePages(ctx, engine, src, onProgress)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			m.logger.Info("recognition cancelled", "source", src.Name)
		} else {
			m.logger.Error("recognition failed", "source", src.Name, "error", err)
		}
		return nil, err
	}
	onProgress(100)

	res := aggregate(pages)
	res.Engine = engine.Name()
	elapsed := time.Since(start)
	res.ProcessingTimeMs = elapsed.Milliseconds()

	metrics.RecognitionDuration.WithLabelValues(res.Engine).Observe(elapsed.Seconds())
	metrics.RecognitionPages.Observe(float64(res.Pages))
	m.logger.Debug("recognition completed",
		"source", src.Name, "pages", res.Pages, "confidence", res.Confidence, "elapsed", elapsed.Round(time.Millisecond))
	return &res, nil
}

func (m *Manager) recognizePages(ctx context.Context, engine Engine, src Source, onProgress ProgressFunc) ([]PageResult, error) {
	data, err := src.bytes(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, src.Name, err)
	}

	doc, err := m.rasterizer.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConversionFailed, src.Name, err)
	}
	pageNumbers, err := render.SelectPages(m.cfg.Render.PageRange, doc.PageCount())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConversionFailed, src.Name, err)
	}

	total := len(pageNumbers)
	results := make([]PageResult, 0, total)
	for i, pageNum := range pageNumbers {
		onProgress(float64(i) / float64(total) * 100)

		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		img, err := doc.RenderPage(ctx, pageNum, m.cfg.Render)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrConversionFailed, src.Name, pageNum, err)
		}

		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		pr, err := m.recognizePage(ctx, engine, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrRecognitionFailed, src.Name, pageNum, err)
		}
		pr.PageNumber = pageNum
		results = append(results, pr)
	}
	return results, nil
}

func (m *Manager) recognizePage(ctx context.Context, engine Engine, img render.PageImage) (PageResult, error) {
	if m.cfg.PageTimeout <= 0 {
		return engine.Recognize(ctx, img)
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PageTimeout)
	defer cancel()
	return engine.Recognize(pctx, img)
}
