package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedRecognizer simulates a document of `pages` pages per source. Sources
// named "fail*" error out, and onPage runs before each page is recognized.
type pagedRecognizer struct {
	pages  int
	onPage func(name string, page int)

	mu    sync.Mutex
	calls []string
}

func (r *pagedRecognizer) RecognizeDocument(ctx context.Context, src ocr.Source, onProgress ocr.ProgressFunc) (*ocr.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, src.Name)
	r.mu.Unlock()

	if strings.HasPrefix(src.Name, "fail") {
		return nil, fmt.Errorf("%w: bad xref table", ocr.ErrConversionFailed)
	}
	var texts []string
	for i := 0; i < r.pages; i++ {
		if onProgress != nil {
			onProgress(float64(i) / float64(r.pages) * 100)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ocr.ErrCancelled, ctx.Err())
		}
		if r.onPage != nil {
			r.onPage(src.Name, i+1)
		}
		texts = append(texts, fmt.Sprintf("%s p%d", src.Name, i+1))
	}
	if onProgress != nil {
		onProgress(100)
	}
	return &ocr.Result{Text: strings.Join(texts, "\n"), Confidence: 90, Pages: r.pages}, nil
}

func file(name string) File {
	return File{ID: "id-" + name, Name: name, Source: ocr.BytesSource(name, []byte(name))}
}

func TestProcessAll_FailureIsolation(t *testing.T) {
	rec := &pagedRecognizer{pages: 1}
	c := NewCoordinator(rec, nil)

	err := c.ProcessAll(context.Background(), []File{file("a.pdf"), file("fail-b.pdf"), file("c.pdf")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pdf", "fail-b.pdf", "c.pdf"}, rec.calls, "input order")

	m := c.Metrics()
	assert.Equal(t, 3, m.Received)
	assert.Equal(t, 3, m.Started)
	assert.Equal(t, 3, m.Processed())
	assert.Equal(t, 2, m.Completed)
	assert.Equal(t, 1, m.Failed)

	results := c.Results()
	assert.Len(t, results, 2)
	assert.Contains(t, results, "id-a.pdf")
	assert.Contains(t, results, "id-c.pdf")

	b, ok := c.Job("id-fail-b.pdf")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Contains(t, b.Error, "bad xref table")
	assert.Nil(t, b.Result)
}

func TestProcessOne_Idempotent(t *testing.T) {
	c := NewCoordinator(&pagedRecognizer{pages: 2}, nil)
	f := file("a.pdf")

	first, err := c.ProcessOne(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)

	_, err = c.EditResult(f.ID, "corrected")
	require.NoError(t, err)

	second, err := c.ProcessOne(context.Background(), f)
	require.NoError(t, err)

	assert.Len(t, c.Jobs(), 1)
	assert.Len(t, c.Results(), 1)
	assert.False(t, second.Edited)
	assert.Equal(t, "a.pdf p1\na.pdf p2", second.Result.Text)
	assert.InDelta(t, 100.0, second.Progress, 1e-9)
}

func TestProcessAll_CancelMidDocument(t *testing.T) {
	rec := &pagedRecognizer{pages: 5}
	c := NewCoordinator(rec, nil)
	rec.onPage = func(name string, page int) {
		if name == "b.pdf" && page == 2 {
			c.CancelProcessing()
		}
	}

	err := c.ProcessAll(context.Background(), []File{file("a.pdf"), file("b.pdf"), file("c.pdf")})
	require.ErrorIs(t, err, ocr.ErrCancelled)

	a, _ := c.Job("id-a.pdf")
	b, _ := c.Job("id-b.pdf")
	cc, _ := c.Job("id-c.pdf")

	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Nil(t, b.Result)
	assert.Empty(t, b.Error, "cancellation is not an error")
	assert.InDelta(t, 40.0, b.Progress, 1e-9, "progress stays at the last value")
	assert.Equal(t, StatusPending, cc.Status)

	m := c.Metrics()
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Cancelled)
	assert.Equal(t, 0, m.Failed)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, rec.calls)
}

func TestProcessAll_Busy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &pagedRecognizer{pages: 1}
	rec.onPage = func(string, int) {
		close(started)
		<-release
	}
	c := NewCoordinator(rec, nil)

	done := make(chan error, 1)
	go func() { done <- c.ProcessAll(context.Background(), []File{file("a.pdf")}) }()
	<-started

	require.ErrorIs(t, c.ProcessAll(context.Background(), []File{file("b.pdf")}), ocr.ErrBusy)
	_, err := c.ProcessOne(context.Background(), file("b.pdf"))
	require.ErrorIs(t, err, ocr.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestEditResult(t *testing.T) {
	c := NewCoordinator(&pagedRecognizer{pages: 1}, nil)
	_, err := c.EditResult("missing", "x")
	require.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, c.ProcessAll(context.Background(), []File{file("fail.pdf"), file("ok.pdf")}))
	_, err = c.EditResult("id-fail.pdf", "x")
	require.ErrorIs(t, err, ErrNoResult)

	job, err := c.EditResult("id-ok.pdf", "fixed text")
	require.NoError(t, err)
	assert.True(t, job.Edited)
	assert.Equal(t, "fixed text", job.Result.Text)
	assert.Equal(t, "fixed text", c.Results()["id-ok.pdf"].Text)
}

func TestJobListenerAndClear(t *testing.T) {
	c := NewCoordinator(&pagedRecognizer{pages: 2}, nil)
	var statuses []Status
	c.OnJobUpdate(func(j Job) {
		if len(statuses) == 0 || statuses[len(statuses)-1] != j.Status {
			statuses = append(statuses, j.Status)
		}
	})

	_, err := c.ProcessOne(context.Background(), file("a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusPending, StatusProcessing, StatusCompleted}, statuses)

	c.Clear()
	assert.Empty(t, c.Jobs())
	assert.Equal(t, Metrics{}, c.Metrics())
}

func TestJobsAreCopies(t *testing.T) {
	c := NewCoordinator(&pagedRecognizer{pages: 1}, nil)
	_, err := c.ProcessOne(context.Background(), file("a.pdf"))
	require.NoError(t, err)

	jobs := c.Jobs()
	jobs[0].Result.Text = "mutated"
	assert.NotEqual(t, "mutated", c.Results()["id-a.pdf"].Text)
}

func TestProcessAll_ContextAlreadyCancelled(t *testing.T) {
	c := NewCoordinator(&pagedRecognizer{pages: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ProcessAll(ctx, []File{file("a.pdf"), file("b.pdf")})
	require.True(t, errors.Is(err, ocr.ErrCancelled))
	for _, j := range c.Jobs() {
		assert.Equal(t, StatusPending, j.Status)
	}
}
