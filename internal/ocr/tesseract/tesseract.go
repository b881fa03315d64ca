// Package tesseract provides the gosseract-backed recognition engine.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/otiai10/gosseract/v2"
)

// EngineName is the registry name of this engine.
const EngineName = "tesseract"

// Engine wraps one gosseract client for its whole lifetime.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	dpi    int
}

// New creates a Tesseract engine for cfg. Languages are '+' separated, as
// Tesseract expects them (e.g. "eng+deu").
func New(ctx context.Context, cfg ocr.EngineConfig) (ocr.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := gosseract.NewClient()
	if langs := languages(cfg.Language); len(langs) > 0 {
		if err := client.SetLanguage(langs...); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	for k, v := range cfg.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	return &Engine{client: client, dpi: cfg.DPI}, nil
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return EngineName }

// Recognize runs Tesseract on the encoded page. The native call cannot be
// interrupted; on cancellation the call keeps the engine locked until it
// returns and the caller gets ctx.Err() immediately.
func (e *Engine) Recognize(ctx context.Context, page render.PageImage) (ocr.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return ocr.PageResult{}, err
	}
	if len(page.Data) == 0 {
		return ocr.PageResult{}, fmt.Errorf("page %d has no encoded image", page.PageNumber)
	}

	type outcome struct {
		res ocr.PageResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		res, err := e.recognize(page)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return ocr.PageResult{}, ctx.Err()
	case out := <-done:
		return out.res, out.err
	}
}

func (e *Engine) recognize(page render.PageImage) (ocr.PageResult, error) {
	if e.client == nil {
		return ocr.PageResult{}, errors.New("engine closed")
	}
	if err := e.client.SetImageFromBytes(page.Data); err != nil {
		return ocr.PageResult{}, fmt.Errorf("set image: %w", err)
	}
	if e.dpi > 0 {
		if err := e.client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.dpi)); err != nil {
			return ocr.PageResult{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := e.client.Text()
	if err != nil {
		return ocr.PageResult{}, fmt.Errorf("recognize text: %w", err)
	}
	return ocr.PageResult{
		PageNumber: page.PageNumber,
		Text:       strings.TrimSpace(text),
		Confidence: e.wordConfidence(),
	}, nil
}

// wordConfidence averages Tesseract's per-word confidences (0-100).
func (e *Engine) wordConfidence() float64 {
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}

// Close releases the native client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func languages(s string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
