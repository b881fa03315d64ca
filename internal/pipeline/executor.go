package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/postprocess"
	"github.com/MeKo-Tech/docflow/internal/render"
)

// ContentFetcher downloads item content. explorer.Client implements it.
type ContentFetcher interface {
	FetchContent(ctx context.Context, driveID, itemID string) ([]byte, error)
}

// itemFetcher is implemented by explorer.CachedClient and avoids a second
// Stat when the item metadata is already known.
type itemFetcher interface {
	FetchItem(ctx context.Context, item explorer.Item) ([]byte, error)
}

func fetch(ctx context.Context, c ContentFetcher, item explorer.Item) ([]byte, error) {
	if f, ok := c.(itemFetcher); ok {
		return f.FetchItem(ctx, item)
	}
	return c.FetchContent(ctx, item.DriveID, item.ID)
}

// FileID is the batch/job id of a source item.
func FileID(item explorer.Item) string {
	return item.DriveID + "/" + item.ID
}

// ConvertExecutor renders source items to page images and extracts their
// embedded page text.
type ConvertExecutor struct {
	content    ContentFetcher
	rasterizer render.Rasterizer
	text       render.TextExtractor
	logger     *slog.Logger
}

// NewConvertExecutor creates a Convert stage executor.
func NewConvertExecutor(content ContentFetcher, rasterizer render.Rasterizer, text render.TextExtractor, logger *slog.Logger) *ConvertExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertExecutor{content: content, rasterizer: rasterizer, text: text, logger: logger}
}

// Convert converts every item. A failing item is recorded on its entry and
// does not stop the others; only cancellation aborts the stage.
func (e *ConvertExecutor) Convert(ctx context.Context, cfg ConvertConfig, items []explorer.Item, progress ProgressCallback) (ConvertOutput, error) {
	if err := cfg.Validate(); err != nil {
		return ConvertOutput{}, err
	}
	progress = orNoOp(progress)
	progress.OnStart(len(items))

	out := ConvertOutput{Files: make([]ConvertedFile, 0, len(items))}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return ConvertOutput{}, fmt.Errorf("%w: %w", ocr.ErrCancelled, err)
		}
		res, err := e.convertItem(ctx, cfg, item)
		if err != nil {
			if ctx.Err() != nil {
				return ConvertOutput{}, fmt.Errorf("%w: %w", ocr.ErrCancelled, ctx.Err())
			}
			e.logger.Error("conversion failed", "file_id", FileID(item), "error", err)
			progress.OnError(i+1, err)
			out.Files = append(out.Files, ConvertedFile{Item: item, Error: err.Error()})
		} else {
			out.Files = append(out.Files, ConvertedFile{Item: item, Result: res})
		}
		progress.OnProgress(i+1, len(items))
	}
	progress.OnComplete()
	return out, nil
}

func (e *ConvertExecutor) convertItem(ctx context.Context, cfg ConvertConfig, item explorer.Item) (ConversionResult, error) {
	start := time.Now()
	data, err := fetch(ctx, e.content, item)
	if err != nil {
		return ConversionResult{}, fmt.Errorf("%w: %w", ocr.ErrSourceUnavailable, err)
	}

	images, err := render.RasterizeAll(ctx, e.rasterizer, data, cfg.RenderOptions())
	if err != nil {
		return ConversionResult{}, fmt.Errorf("%w: %w", ocr.ErrConversionFailed, err)
	}

	texts := make([]string, len(images))
	if cfg.Engine == EngineText && e.text != nil {
		extracted, err := e.text.ExtractText(ctx, data, cfg.PageRangeSpec())
		if err != nil {
			// A broken text layer only means Recognize has to run.
			e.logger.Warn("text extraction failed", "file_id", FileID(item), "error", err)
		}
		copy(texts, extracted)
	}

	return ConversionResult{
		Images:    images,
		PageTexts: texts,
		Metrics: ConversionMetrics{
			Engine:      string(cfg.Engine),
			TimeSeconds: time.Since(start).Seconds(),
			Pages:       len(images),
		},
	}, nil
}

// RecognizeExecutor runs the source items through the batch coordinator.
type RecognizeExecutor struct {
	coordinator *batch.Coordinator
	content     ContentFetcher

	mu       sync.Mutex
	progress ProgressCallback
	total    int
	files    map[string]int
}

// NewRecognizeExecutor creates a Recognize stage executor.
func NewRecognizeExecutor(coordinator *batch.Coordinator, content ContentFetcher) *RecognizeExecutor {
	e := &RecognizeExecutor{coordinator: coordinator, content: content}
	coordinator.OnJobUpdate(e.onJob)
	return e
}

// Recognize processes all items sequentially. Per-file failures end up in
// the job table; an error is returned when the run was cancelled or when
// no file could be recognized.
func (e *RecognizeExecutor) Recognize(ctx context.Context, _ RecognizeConfig, items []explorer.Item, progress ProgressCallback) (RecognizeOutput, error) {
	files := make([]batch.File, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		item := item
		id := FileID(item)
		index[id] = i + 1
		files[i] = batch.File{
			ID:   id,
			Name: item.Name,
			Source: ocr.Source{
				Name:  item.Name,
				Fetch: func(ctx context.Context) ([]byte, error) { return fetch(ctx, e.content, item) },
			},
		}
	}

	progress = orNoOp(progress)
	e.mu.Lock()
	e.progress, e.total, e.files = progress, len(items), index
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.progress, e.files = nil, nil
		e.mu.Unlock()
	}()

	progress.OnStart(len(items))
	err := e.coordinator.ProcessAll(ctx, files)
	if err != nil {
		return RecognizeOutput{}, err
	}
	progress.OnComplete()

	out := RecognizeOutput{Metrics: e.coordinator.Metrics()}
	completed := 0
	for _, job := range e.coordinator.Jobs() {
		if _, ok := index[job.FileID]; !ok {
			continue
		}
		if job.Status == batch.StatusCompleted {
			completed++
		}
		out.Jobs = append(out.Jobs, job)
	}
	if len(items) > 0 && completed == 0 {
		return out, fmt.Errorf("%w: no file could be recognized", ocr.ErrRecognitionFailed)
	}
	return out, nil
}

func (e *RecognizeExecutor) onJob(job batch.Job) {
	e.mu.Lock()
	progress, total := e.progress, e.total
	n, ok := e.files[job.FileID]
	e.mu.Unlock()
	if progress == nil || !ok {
		return
	}
	switch job.Status {
	case batch.StatusCompleted:
		progress.OnProgress(n, total)
	case batch.StatusFailed:
		progress.OnError(n, errors.New(job.Error))
		progress.OnProgress(n, total)
	}
}

// PostprocessExecutor cleans the nearest text-bearing input.
type PostprocessExecutor struct{}

// NewPostprocessExecutor creates a Postprocess stage executor.
func NewPostprocessExecutor() *PostprocessExecutor { return &PostprocessExecutor{} }

// Postprocess cleans the documents of the first input, nearest first, that
// carries text.
func (e *PostprocessExecutor) Postprocess(ctx context.Context, cfg PostprocessConfig, inputs []StageOutput, progress ProgressCallback) (PostprocessOutput, error) {
	docs, ok := textDocuments(inputs)
	if !ok {
		return PostprocessOutput{}, errors.New("no text input: run convert or recognize first")
	}
	progress = orNoOp(progress)
	progress.OnStart(len(docs))
	out := PostprocessOutput{Documents: make([]TextDocument, 0, len(docs))}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return PostprocessOutput{}, fmt.Errorf("%w: %w", ocr.ErrCancelled, err)
		}
		doc.Text = postprocess.Clean(doc.Text, cfg.Options)
		out.Documents = append(out.Documents, doc)
		progress.OnProgress(i+1, len(docs))
	}
	progress.OnComplete()
	return out, nil
}

// Documents returns the text documents carried by out. Convert outputs
// only count when a page has embedded text.
func Documents(out StageOutput) ([]TextDocument, bool) {
	return textDocuments([]StageOutput{out})
}

func textDocuments(inputs []StageOutput) ([]TextDocument, bool) {
	for _, in := range inputs {
		switch out := in.(type) {
		case PostprocessOutput:
			return append([]TextDocument(nil), out.Documents...), true
		case RecognizeOutput:
			var docs []TextDocument
			for _, job := range out.Jobs {
				if job.Result == nil {
					continue
				}
				docs = append(docs, TextDocument{ID: job.FileID, Name: job.Name, Text: job.Result.Text, Origin: OriginRecognized})
			}
			if len(docs) > 0 {
				return docs, true
			}
		case ConvertOutput:
			if !out.HasText() {
				continue
			}
			var docs []TextDocument
			for _, f := range out.Files {
				if f.Error != "" {
					continue
				}
				docs = append(docs, TextDocument{
					ID:     FileID(f.Item),
					Name:   f.Item.Name,
					Text:   strings.Join(f.Result.PageTexts, "\n"),
					Origin: OriginEmbedded,
				})
			}
			return docs, true
		}
	}
	return nil, false
}

func orNoOp(p ProgressCallback) ProgressCallback {
	if p == nil {
		return NoOpProgressCallback{}
	}
	return p
}
