package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreset_RoundTripThroughFile(t *testing.T) {
	s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
	cfg := DefaultConvertConfig()
	cfg.DPI = 300
	cfg.ColorMode = render.ColorModeBW
	cfg.PageRangeMode = PageRangeCustom
	cfg.PageRange = "1-3"
	require.NoError(t, s.SetStageConfig(ids[0], cfg))
	require.NoError(t, s.SetStageEnabled(ids[1], false))

	fs := afero.NewMemMapFs()
	require.NoError(t, SavePreset(fs, "presets/scan.yaml", s.Preset("scan")))

	loaded, err := LoadPreset(fs, "presets/scan.yaml")
	require.NoError(t, err)
	assert.Equal(t, "scan", loaded.Name)
	require.Len(t, loaded.Stages, 3)

	target, _ := newState(t, KindPostprocess)
	require.NoError(t, target.OnSourceOutputChanged(items("a.pdf")))
	require.NoError(t, target.ApplyPreset(loaded))

	stages := target.Stages()
	require.Len(t, stages, 4)
	assert.Equal(t, []StageKind{KindSource, KindConvert, KindRecognize, KindPostprocess},
		[]StageKind{stages[0].Kind, stages[1].Kind, stages[2].Kind, stages[3].Kind})
	assert.Equal(t, cfg, stages[1].Config)
	assert.False(t, stages[2].Enabled)
	assert.True(t, stages[3].Enabled)
	assert.Equal(t, 1, target.CurrentIndex())
	assert.Len(t, target.SourceItems(), 1, "selection survives")
}

func TestDecodePreset(t *testing.T) {
	yml := `
name: text-only
stages:
  - kind: convert
    convert:
      engine: text
      dpi: 150
      scale: 1
      page_range_mode: all
      format: png
      color_mode: grayscale
  - kind: postprocess
    postprocess:
      options:
        normalize_form: NFKC
        trim: true
`
	p, err := DecodePreset(strings.NewReader(yml))
	require.NoError(t, err)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, render.ColorModeGrayscale, p.Stages[0].Convert.ColorMode)
	assert.Equal(t, "NFKC", p.Stages[1].Postprocess.Options.NormalizeForm)

	_, err = DecodePreset(strings.NewReader("name: x\nbogus: 1\n"))
	require.Error(t, err)
}

func TestApplyPreset_Rejects(t *testing.T) {
	s, ids := newState(t, KindConvert)

	err := s.ApplyPreset(Preset{Stages: []PresetStage{{Kind: KindSource}}})
	require.ErrorIs(t, err, ErrInvalidStageKind)

	bad := DefaultConvertConfig()
	bad.DPI = 1
	err = s.ApplyPreset(Preset{Name: "bad", Stages: []PresetStage{{Kind: KindConvert, Convert: &bad}}})
	require.ErrorIs(t, err, render.ErrInvalidOptions)

	// Nothing changed.
	assert.Equal(t, []string{SourceStageID, ids[0]}, stageIDs(s))
}

func TestEncodePreset_Default(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePreset(&buf, DefaultPreset()))
	assert.Contains(t, buf.String(), "kind: recognize")

	s := NewRunState()
	require.NoError(t, s.ApplyPreset(DefaultPreset()))
	assert.Len(t, s.Stages(), 4)
}
