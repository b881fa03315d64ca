// Package ocr owns the recognition engine session: engine lifecycle,
// document rasterization, per-page recognition with progress and
// cancellation, and aggregation into a document result.
package ocr

import (
	"context"
	"errors"
	"strings"

	"github.com/MeKo-Tech/docflow/internal/render"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateError         State = "error"
)

// States lists all states, used for metrics.
func States() []State {
	return []State{StateUninitialized, StateInitializing, StateReady, StateError}
}

var (
	ErrEngineNotReady    = errors.New("recognition engine not ready")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrConversionFailed  = errors.New("document conversion failed")
	ErrRecognitionFailed = errors.New("recognition failed")
	ErrCancelled         = errors.New("recognition cancelled")
	ErrBusy              = errors.New("recognition already in progress")
)

// PageResult is the recognition output of one page.
type PageResult struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the aggregated recognition output of one document.
type Result struct {
	Text             string       `json:"text"`
	Confidence       float64      `json:"confidence"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	Pages            int          `json:"pages"`
	Engine           string       `json:"engine,omitempty"`
	PageResults      []PageResult `json:"page_results"`
}

// EngineConfig configures engine construction.
type EngineConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Language  string            `json:"language" yaml:"language"`
	DPI       int               `json:"dpi" yaml:"dpi"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Engine recognizes text on a single rendered page. Engines are used from
// one goroutine at a time.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, page render.PageImage) (PageResult, error)
	Close() error
}

// EngineFactory builds an engine. It may be slow (model loading).
type EngineFactory func(ctx context.Context, cfg EngineConfig) (Engine, error)

// ProgressFunc receives progress in percent, monotonically non-decreasing.
type ProgressFunc func(percent float64)

// Source supplies the document bytes, either directly or through Fetch.
type Source struct {
	Name  string
	Data  []byte
	Fetch func(ctx context.Context) ([]byte, error)
}

// BytesSource wraps in-memory bytes.
func BytesSource(name string, data []byte) Source {
	return Source{Name: name, Data: data}
}

func (s Source) bytes(ctx context.Context) ([]byte, error) {
	if s.Data != nil {
		return s.Data, nil
	}
	if s.Fetch == nil {
		return nil, errors.New("no data")
	}
	data, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// aggregate joins page texts with newlines and averages page confidences.
func aggregate(pages []PageResult) Result {
	res := Result{Pages: len(pages), PageResults: pages}
	if len(pages) == 0 {
		return res
	}
	texts := make([]string, len(pages))
	var sum float64
	for i, p := range pages {
		texts[i] = p.Text
		sum += p.Confidence
	}
	res.Text = strings.Join(texts, "\n")
	res.Confidence = sum / float64(len(pages))
	return res
}
