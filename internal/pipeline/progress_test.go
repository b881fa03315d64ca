package pipeline

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	callback := NoOpProgressCallback{}
	callback.OnStart(10)
	callback.OnProgress(5, 10)
	callback.OnComplete()
	callback.OnError(3, assert.AnError)
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "Convert: ").WithWidth(10)

	callback.OnStart(4)
	callback.OnProgress(4, 4)
	callback.OnComplete()
	assert.Contains(t, buf.String(), "Convert: Completed in")

	buf.Reset()
	callback.OnError(3, assert.AnError)
	assert.Contains(t, buf.String(), "Convert: Error at item 3")
}

func TestConsoleProgressCallback_ProgressBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "")
	callback.OnProgress(1, 2)
	assert.Empty(t, buf.String())
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	callback := NewLogProgressCallback(logger, slog.LevelInfo, "recognize ")

	callback.OnStart(2)
	callback.OnProgress(1, 2)
	callback.OnError(2, assert.AnError)
	callback.OnComplete()

	out := buf.String()
	assert.Contains(t, out, `"msg":"recognize starting"`)
	assert.Contains(t, out, `"percent":"50.0"`)
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"recognize completed"`)
}

type recordingCallback struct {
	events []string
}

func (r *recordingCallback) OnStart(int)         { r.events = append(r.events, "start") }
func (r *recordingCallback) OnProgress(int, int) { r.events = append(r.events, "progress") }
func (r *recordingCallback) OnComplete()         { r.events = append(r.events, "complete") }
func (r *recordingCallback) OnError(int, error)  { r.events = append(r.events, "error") }

func TestMultiProgressCallback(t *testing.T) {
	a, b := &recordingCallback{}, &recordingCallback{}
	multi := NewMultiProgressCallback(a)
	multi.Add(b)

	multi.OnStart(1)
	multi.OnProgress(1, 1)
	multi.OnError(1, assert.AnError)
	multi.OnComplete()

	want := []string{"start", "progress", "error", "complete"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}

func TestFuncProgressCallback(t *testing.T) {
	var got []float64
	cb := FuncProgressCallback(func(p float64) { got = append(got, p) })
	cb.OnStart(4)
	cb.OnProgress(1, 4)
	cb.OnProgress(0, 0)
	cb.OnComplete()
	assert.Equal(t, []float64{0, 25, 100}, got)
}
