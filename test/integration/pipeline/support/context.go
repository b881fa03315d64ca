// Package support holds the godog step definitions for the pipeline
// integration suite. Scenarios drive a real RunState and Runner over an
// in-memory library and a scripted OCR engine.
package support

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/MeKo-Tech/docflow/internal/testutil"
	"github.com/spf13/afero"
)

const (
	libraryRoot = "/lib"
	libraryName = "docs"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	FS       afero.Fs
	Explorer *explorer.FSClient
	Session  *ocr.Manager
	Coord    *batch.Coordinator
	State    *pipeline.RunState
	Runner   *pipeline.Runner
	Engine   *scriptedEngine

	// Stage ids by kind, in order of creation.
	StageIDs map[pipeline.StageKind][]string

	LastError error
	LastMoved bool
	Snapshots int
	unsub     func()
}

// scriptedEngine answers every page with "recognized page N".
type scriptedEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Recognize(ctx context.Context, page render.PageImage) (ocr.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return ocr.PageResult{}, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return ocr.PageResult{PageNumber: page.PageNumber, Text: fmt.Sprintf("recognized page %d", page.PageNumber), Confidence: 88}, nil
}

func (e *scriptedEngine) Close() error { return nil }

// Calls returns the number of recognized pages.
func (e *scriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// NewTestContext wires a fresh pipeline with only the Source stage.
func NewTestContext() (*TestContext, error) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(libraryRoot+"/"+libraryName, 0o755); err != nil {
		return nil, err
	}

	engine := &scriptedEngine{}
	session := ocr.NewManager(func(context.Context, ocr.EngineConfig) (ocr.Engine, error) {
		return engine, nil
	}, render.NewRenderer(nil), ocr.DefaultConfig(), nil)
	if err := session.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	client := explorer.NewFSClient(fs, libraryRoot)
	coord := batch.NewCoordinator(session, nil)
	state := pipeline.NewRunState()
	runner := pipeline.NewRunner(state, pipeline.Executors{
		Convert:     pipeline.NewConvertExecutor(client, render.NewRenderer(nil), render.NewVectorTextExtractor(), nil),
		Recognize:   pipeline.NewRecognizeExecutor(coord, client),
		Postprocess: pipeline.NewPostprocessExecutor(),
	}, nil, nil)

	tc := &TestContext{
		FS:       fs,
		Explorer: client,
		Session:  session,
		Coord:    coord,
		State:    state,
		Runner:   runner,
		Engine:   engine,
		StageIDs: map[pipeline.StageKind][]string{},
	}
	tc.unsub = state.Subscribe(func(pipeline.Snapshot) { tc.Snapshots++ })
	return tc, nil
}

// Cleanup releases the OCR session.
func (tc *TestContext) Cleanup() error {
	if tc.unsub != nil {
		tc.unsub()
	}
	return tc.Session.Close()
}

// writeDocument places a file into the test library.
func (tc *TestContext) writeDocument(name string, data []byte) error {
	path := libraryRoot + "/" + libraryName + "/" + name
	if err := afero.WriteFile(tc.FS, path, data, 0o644); err != nil {
		return err
	}
	old := time.Now().Add(-48 * time.Hour)
	return tc.FS.Chtimes(path, old, old)
}

func textDocument(pages ...string) []byte {
	return testutil.TextPDF(pages...)
}

func imageDocument() ([]byte, error) {
	img := testutil.CreateTestImage(60, 30, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stageID resolves "convert" or "convert 2" style references.
func (tc *TestContext) stageID(ref string) (string, error) {
	if ref == string(pipeline.KindSource) {
		return pipeline.SourceStageID, nil
	}
	var kind string
	n := 1
	if _, err := fmt.Sscanf(ref, "%s %d", &kind, &n); err != nil {
		kind, n = ref, 1
	}
	ids := tc.StageIDs[pipeline.StageKind(kind)]
	if n < 1 || n > len(ids) {
		return "", fmt.Errorf("no %s stage #%d in this scenario", kind, n)
	}
	return ids[n-1], nil
}

// stageByRef returns the current copy of a referenced stage.
func (tc *TestContext) stageByRef(ref string) (pipeline.Stage, error) {
	id, err := tc.stageID(ref)
	if err != nil {
		return pipeline.Stage{}, err
	}
	return tc.State.Stage(id)
}

// finalDocuments returns the documents of the last stage that produced text.
func (tc *TestContext) finalDocuments() []pipeline.TextDocument {
	stages := tc.State.Stages()
	for i := len(stages) - 1; i > 0; i-- {
		if stages[i].Output == nil {
			continue
		}
		if docs, ok := pipeline.Documents(stages[i].Output); ok {
			return docs
		}
	}
	return nil
}
