package pipeline

import (
	"fmt"
	"testing"

	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("stage-%d", n)
	})
}

func newState(t *testing.T, kinds ...StageKind) (*RunState, []string) {
	t.Helper()
	s := NewRunState(sequentialIDs())
	ids := make([]string, 0, len(kinds))
	for _, k := range kinds {
		st, err := s.AddStage(k)
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}
	return s, ids
}

func stageIDs(s *RunState) []string {
	var ids []string
	for _, st := range s.Stages() {
		ids = append(ids, st.ID)
	}
	return ids
}

func items(names ...string) []explorer.Item {
	out := make([]explorer.Item, 0, len(names))
	for _, n := range names {
		out = append(out, explorer.Item{ID: n, DriveID: "lib", Name: n})
	}
	return out
}

func TestNewRunState(t *testing.T) {
	s := NewRunState()
	stages := s.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, SourceStageID, stages[0].ID)
	assert.Equal(t, KindSource, stages[0].Kind)
	assert.Equal(t, StatusCurrent, stages[0].Status)
	assert.Equal(t, 0, s.CurrentIndex())
}

func TestAddStage(t *testing.T) {
	s, ids := newState(t, KindConvert, KindRecognize)

	assert.Equal(t, 2, s.CurrentIndex())
	assert.Equal(t, []bool{false, false, true}, s.Snapshot().ExpandedState)

	st, err := s.Stage(ids[0])
	require.NoError(t, err)
	assert.Equal(t, DefaultConvertConfig(), st.Config)
	assert.Nil(t, st.Output)
	assert.True(t, st.Enabled)

	_, err = s.AddStage(KindSource)
	require.ErrorIs(t, err, ErrInvalidStageKind)
	_, err = s.AddStage("translate")
	require.ErrorIs(t, err, ErrInvalidStageKind)
}

func TestAddStage_UUIDs(t *testing.T) {
	s := NewRunState()
	a, err := s.AddStage(KindConvert)
	require.NoError(t, err)
	b, err := s.AddStage(KindConvert)
	require.NoError(t, err)
	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRemoveStage(t *testing.T) {
	t.Run("source is protected", func(t *testing.T) {
		s, _ := newState(t, KindConvert)
		require.ErrorIs(t, s.RemoveStage(SourceStageID), ErrProtectedStage)
	})

	t.Run("unknown id", func(t *testing.T) {
		s, _ := newState(t, KindConvert)
		require.ErrorIs(t, s.RemoveStage("nope"), ErrStageNotFound)
	})

	t.Run("before current shifts index down", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
		require.NoError(t, s.SetCurrent(ids[2]))
		require.NoError(t, s.RemoveStage(ids[0]))
		assert.Equal(t, 2, s.CurrentIndex())
		assert.Equal(t, ids[2], s.Current().ID)
	})

	t.Run("current stage removed", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize)
		require.NoError(t, s.RemoveStage(ids[1]))
		assert.Equal(t, 1, s.CurrentIndex())
	})

	t.Run("after current keeps index", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
		require.NoError(t, s.SetCurrent(ids[0]))
		require.NoError(t, s.RemoveStage(ids[2]))
		assert.Equal(t, 1, s.CurrentIndex())
	})

	t.Run("last processing stage clamps to source", func(t *testing.T) {
		s, ids := newState(t, KindConvert)
		require.NoError(t, s.RemoveStage(ids[0]))
		assert.Equal(t, 0, s.CurrentIndex())
		assert.Len(t, s.Snapshot().ExpandedState, 1)
	})
}

func TestReorderStage(t *testing.T) {
	s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
	a, b, c := ids[0], ids[1], ids[2]
	// C was added last and is expanded; open B as well.
	require.NoError(t, s.Expand(b, true))
	require.Equal(t, []bool{false, false, true, true}, s.Snapshot().ExpandedState)

	require.True(t, s.ReorderStage(c, a))
	assert.Equal(t, []string{SourceStageID, c, a, b}, stageIDs(s))
	assert.Equal(t, []bool{false, true, false, true}, s.Snapshot().ExpandedState)
	assert.Equal(t, c, s.Current().ID, "current stage keeps its identity")

	assert.False(t, s.ReorderStage(SourceStageID, a))
	assert.False(t, s.ReorderStage(a, SourceStageID))
	assert.False(t, s.ReorderStage("nope", a))
	assert.Equal(t, []string{SourceStageID, c, a, b}, stageIDs(s))
}

func TestSetStageConfig(t *testing.T) {
	s, ids := newState(t, KindConvert, KindPostprocess)

	cfg := DefaultConvertConfig()
	cfg.DPI = 300
	cfg.ColorMode = render.ColorModeGrayscale
	require.NoError(t, s.SetStageConfig(ids[0], cfg))
	st, _ := s.Stage(ids[0])
	assert.Equal(t, cfg, st.Config)

	require.ErrorIs(t, s.SetStageConfig(ids[1], cfg), ErrConfigMismatch)
	require.ErrorIs(t, s.SetStageConfig(ids[0], nil), ErrConfigMismatch)
	require.ErrorIs(t, s.SetStageConfig("nope", cfg), ErrStageNotFound)
}

func TestSetStageOutput_MarksDownstreamDirty(t *testing.T) {
	s, ids := newState(t, KindConvert, KindPostprocess)
	require.NoError(t, s.SetCurrent(ids[0]))

	require.NoError(t, s.SetStageOutput(ids[1], PostprocessOutput{Documents: []TextDocument{{Text: "x"}}}))
	post, _ := s.Stage(ids[1])
	assert.Equal(t, StatusDone, post.Status)

	require.NoError(t, s.SetStageOutput(ids[0], ConvertOutput{}))
	assert.Equal(t, 1, s.CurrentIndex(), "setting output never advances")

	post, _ = s.Stage(ids[1])
	assert.True(t, post.Dirty)
	assert.Equal(t, StatusFuture, post.Status)

	require.ErrorIs(t, s.SetStageOutput(ids[0], PostprocessOutput{}), ErrConfigMismatch)
}

func TestOnSourceOutputChanged(t *testing.T) {
	s := NewRunState()
	require.NoError(t, s.OnSourceOutputChanged(items("a.pdf")))
	assert.Equal(t, 0, s.CurrentIndex(), "no processing stage to move to")

	s, ids := newState(t, KindConvert, KindRecognize)
	require.NoError(t, s.OnSourceOutputChanged(items("a.pdf", "b.pdf")))
	assert.Equal(t, 1, s.CurrentIndex())
	assert.Equal(t, ids[0], s.Current().ID)
	assert.Equal(t, []bool{false, true, false}, s.Snapshot().ExpandedState)
	assert.Len(t, s.SourceItems(), 2)
}

func convertOutput(texts ...string) ConvertOutput {
	images := make([]render.PageImage, len(texts))
	for i := range images {
		images[i] = render.PageImage{PageNumber: i + 1}
	}
	return ConvertOutput{Files: []ConvertedFile{{
		Item:   explorer.Item{ID: "a.pdf", DriveID: "lib", Name: "a.pdf"},
		Result: ConversionResult{Images: images, PageTexts: texts},
	}}}
}

func TestApplyConversion_Branching(t *testing.T) {
	t.Run("embedded text skips recognition", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
		require.NoError(t, s.ApplyConversion(ids[0], convertOutput("", "Invoice 42")))

		rec, _ := s.Stage(ids[1])
		post, _ := s.Stage(ids[2])
		assert.False(t, rec.Enabled)
		assert.True(t, post.Enabled)
		assert.Equal(t, 3, s.CurrentIndex())

		require.NoError(t, s.ForceRecognize())
		rec, _ = s.Stage(ids[1])
		post, _ = s.Stage(ids[2])
		assert.True(t, rec.Enabled)
		assert.False(t, post.Enabled)
		assert.Equal(t, 2, s.CurrentIndex())
	})

	t.Run("no text enables recognition", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
		require.NoError(t, s.ApplyConversion(ids[0], convertOutput("", "  ")))

		rec, _ := s.Stage(ids[1])
		post, _ := s.Stage(ids[2])
		assert.True(t, rec.Enabled)
		assert.False(t, post.Enabled)
		assert.Equal(t, 2, s.CurrentIndex())
	})

	t.Run("only applies to convert stages", func(t *testing.T) {
		s, ids := newState(t, KindConvert, KindRecognize)
		require.ErrorIs(t, s.ApplyConversion(ids[1], convertOutput("x")), ErrConfigMismatch)
		require.ErrorIs(t, s.ApplyConversion("nope", convertOutput("x")), ErrStageNotFound)
	})

	t.Run("force without recognize stage", func(t *testing.T) {
		s, _ := newState(t, KindConvert)
		require.ErrorIs(t, s.ForceRecognize(), ErrStageNotFound)
	})
}

func TestEffectiveInput(t *testing.T) {
	s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
	require.NoError(t, s.OnSourceOutputChanged(items("a.pdf")))

	in, err := s.EffectiveInput(ids[2])
	require.NoError(t, err)
	assert.Equal(t, SourceOutput{Items: items("a.pdf")}, in)

	conv := convertOutput("text")
	require.NoError(t, s.ApplyConversion(ids[0], conv))
	in, err = s.EffectiveInput(ids[2])
	require.NoError(t, err)
	assert.Equal(t, conv, in, "disabled recognize stage is skipped")

	in, err = s.EffectiveInput(ids[0])
	require.NoError(t, err)
	assert.IsType(t, SourceOutput{}, in)

	_, err = s.EffectiveInput("nope")
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestSubscribe_OnlyOnStructuralChange(t *testing.T) {
	s, ids := newState(t, KindConvert)
	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	require.NoError(t, s.Expand(ids[0], false))
	require.Len(t, got, 1)

	// Same value again: no notification.
	require.NoError(t, s.Expand(ids[0], false))
	require.NoError(t, s.SetStageConfig(ids[0], DefaultConvertConfig()))
	require.Len(t, got, 1)

	// Equal content in a fresh slice is still no change.
	require.NoError(t, s.OnSourceOutputChanged(items("a.pdf")))
	require.Len(t, got, 2)
	require.NoError(t, s.OnSourceOutputChanged(items("a.pdf")))
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[1].CurrentIndex)
	assert.Equal(t, items("a.pdf"), got[1].SourceOutput.Items)
	require.Len(t, got[1].ProcessingStages, 1)
	assert.Nil(t, got[1].ProcessingStages[0].Output)

	unsubscribe()
	_, err := s.AddStage(KindRecognize)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestParseStageKind(t *testing.T) {
	k, err := ParseStageKind(" Convert ")
	require.NoError(t, err)
	assert.Equal(t, KindConvert, k)

	_, err = ParseStageKind("source")
	require.ErrorIs(t, err, ErrInvalidStageKind)
}

func TestConvertConfig(t *testing.T) {
	cfg := DefaultConvertConfig()
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.PageRangeSpec())

	cfg.PageRangeMode = PageRangeSingle
	cfg.SinglePage = 3
	assert.Equal(t, "3", cfg.PageRangeSpec())

	cfg.PageRangeMode = PageRangeCustom
	cfg.PageRange = "1-2,5"
	assert.Equal(t, "1-2,5", cfg.RenderOptions().PageRange)
	require.NoError(t, cfg.Validate())

	cfg.PageRange = ""
	require.ErrorIs(t, cfg.Validate(), render.ErrInvalidOptions)

	cfg = DefaultConvertConfig()
	cfg.Alpha = true
	assert.True(t, cfg.RenderOptions().Alpha)
	cfg.Format = render.FormatJPEG
	assert.False(t, cfg.RenderOptions().Alpha, "alpha is png only")

	cfg.DPI = 123
	require.ErrorIs(t, cfg.Validate(), render.ErrInvalidOptions)

	cfg = DefaultConvertConfig()
	cfg.Engine = "magic"
	require.ErrorIs(t, cfg.Validate(), render.ErrInvalidOptions)

	cfg = DefaultConvertConfig()
	cfg.DPI, cfg.Scale = 300, 2
	w, h := cfg.PageSize(612, 792)
	assert.Equal(t, 5100, w)
	assert.Equal(t, 6600, h)
	cfg.Width, cfg.Height = 800, 600
	w, h = cfg.PageSize(612, 792)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}
