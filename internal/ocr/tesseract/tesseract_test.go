package tesseract

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/MeKo-Tech/docflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"eng", "deu"}, languages("eng+deu"))
	assert.Equal(t, []string{"eng", "fra"}, languages(" eng , fra "))
	assert.Nil(t, languages(""))
}

func TestEngine_CancelledContext(t *testing.T) {
	e := &Engine{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Recognize(ctx, render.PageImage{PageNumber: 1, Data: []byte{1}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_EmptyPage(t *testing.T) {
	e := &Engine{}
	_, err := e.Recognize(context.Background(), render.PageImage{PageNumber: 3})
	require.ErrorContains(t, err, "page 3")
}

func TestEngine_Recognize(t *testing.T) {
	if os.Getenv("DOCFLOW_TESSERACT_TESTS") == "" {
		t.Skip("set DOCFLOW_TESSERACT_TESTS=1 to run against a local Tesseract installation")
	}

	engine, err := New(context.Background(), ocr.EngineConfig{Language: "eng", DPI: 300})
	require.NoError(t, err)
	defer func() { _ = engine.Close() }()

	img := testutil.CreateTestImageWithText(600, 120, "HELLO WORLD")
	opts := render.RecognitionOptions()
	doc, err := render.NewRenderer(nil).Open(testutil.EncodePNG(t, img))
	require.NoError(t, err)
	page, err := doc.RenderPage(context.Background(), 1, opts)
	require.NoError(t, err)

	res, err := engine.Recognize(context.Background(), page)
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(res.Text), "HELLO")
	assert.Greater(t, res.Confidence, 0.0)
}
