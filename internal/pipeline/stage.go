// Package pipeline holds the stage graph of one document processing run:
// an explorer Source stage followed by reorderable processing stages whose
// outputs feed the next stage, plus the executors and runner that drive it.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/postprocess"
	"github.com/MeKo-Tech/docflow/internal/render"
)

// SourceStageID is the fixed id of the Source stage.
const SourceStageID = "source"

// StageKind identifies what a stage does.
type StageKind string

const (
	KindSource      StageKind = "source"
	KindConvert     StageKind = "convert"
	KindRecognize   StageKind = "recognize"
	KindPostprocess StageKind = "postprocess"
)

// ProcessingKinds lists the kinds that can be added to a pipeline.
func ProcessingKinds() []StageKind {
	return []StageKind{KindConvert, KindRecognize, KindPostprocess}
}

// ParseStageKind parses a processing stage kind.
func ParseStageKind(s string) (StageKind, error) {
	k := StageKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindConvert, KindRecognize, KindPostprocess:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStageKind, s)
}

// Status is the position of a stage relative to the current one.
type Status string

const (
	StatusFuture  Status = "future"
	StatusCurrent Status = "current"
	StatusDone    Status = "done"
)

var (
	ErrInvalidStageKind = errors.New("invalid stage kind")
	ErrProtectedStage   = errors.New("stage is protected")
	ErrStageNotFound    = errors.New("stage not found")
	ErrConfigMismatch   = errors.New("config does not match stage kind")
	ErrStageDisabled    = errors.New("stage is disabled")
	ErrNothingToRun     = errors.New("no processing stage to run")
)

// StageConfig is the per-kind configuration. The set of implementations is
// closed: SourceConfig, ConvertConfig, RecognizeConfig, PostprocessConfig.
type StageConfig interface {
	Kind() StageKind
	stageConfig()
}

// StageOutput is the per-kind output. The set of implementations is closed:
// SourceOutput, ConvertOutput, RecognizeOutput, PostprocessOutput.
// Outputs are treated as immutable once stored.
type StageOutput interface {
	Kind() StageKind
	stageOutput()
}

// Stage is one step of the pipeline.
type Stage struct {
	ID      string      `json:"id"`
	Kind    StageKind   `json:"kind"`
	Config  StageConfig `json:"config"`
	Output  StageOutput `json:"output,omitempty"`
	Status  Status      `json:"status"`
	Enabled bool        `json:"enabled"`
	// Dirty is set when an upstream output changed after this stage ran.
	Dirty bool `json:"dirty,omitempty"`
}

// SourceConfig has no settings; the selection lives in SourceOutput.
type SourceConfig struct{}

func (SourceConfig) Kind() StageKind { return KindSource }
func (SourceConfig) stageConfig()    {}

// SourceOutput is the explorer selection.
type SourceOutput struct {
	Items []explorer.Item `json:"items"`
}

func (SourceOutput) Kind() StageKind { return KindSource }
func (SourceOutput) stageOutput()    {}

// ConvertEngine selects how the Convert stage treats documents.
type ConvertEngine string

const (
	// EngineText renders pages and extracts embedded page text.
	EngineText ConvertEngine = "text"
	// EngineImage renders pages only.
	EngineImage ConvertEngine = "image"
)

// PageRangeMode selects which pages the Convert stage renders.
type PageRangeMode string

const (
	PageRangeAll    PageRangeMode = "all"
	PageRangeSingle PageRangeMode = "single"
	PageRangeCustom PageRangeMode = "custom"
)

// ConvertConfig configures the Convert stage. Width and Height are derived
// from DPI and Scale when zero.
type ConvertConfig struct {
	Engine        ConvertEngine    `json:"engine" yaml:"engine"`
	Language      string           `json:"language,omitempty" yaml:"language,omitempty"`
	DPI           int              `json:"dpi" yaml:"dpi"`
	Scale         float64          `json:"scale" yaml:"scale"`
	Width         int              `json:"width,omitempty" yaml:"width,omitempty"`
	Height        int              `json:"height,omitempty" yaml:"height,omitempty"`
	PageRangeMode PageRangeMode    `json:"page_range_mode" yaml:"page_range_mode"`
	SinglePage    int              `json:"single_page,omitempty" yaml:"single_page,omitempty"`
	PageRange     string           `json:"page_range,omitempty" yaml:"page_range,omitempty"`
	Format        render.Format    `json:"format" yaml:"format"`
	ColorMode     render.ColorMode `json:"color_mode" yaml:"color_mode"`
	Rotation      int              `json:"rotation" yaml:"rotation"`
	Alpha         bool             `json:"alpha" yaml:"alpha"`
}

func (ConvertConfig) Kind() StageKind { return KindConvert }
func (ConvertConfig) stageConfig()    {}

// DefaultConvertConfig returns the Convert stage defaults.
func DefaultConvertConfig() ConvertConfig {
	d := render.DefaultOptions()
	return ConvertConfig{
		Engine:        EngineText,
		Language:      "eng",
		DPI:           d.DPI,
		Scale:         d.Scale,
		PageRangeMode: PageRangeAll,
		Format:        d.Format,
		ColorMode:     d.ColorMode,
	}
}

// PageRangeSpec turns the page range mode into a render page range.
func (c ConvertConfig) PageRangeSpec() string {
	switch c.PageRangeMode {
	case PageRangeSingle:
		if c.SinglePage < 1 {
			return "1"
		}
		return fmt.Sprint(c.SinglePage)
	case PageRangeCustom:
		return c.PageRange
	}
	return ""
}

// RenderOptions maps the stage config onto renderer options. Alpha is only
// honoured for png output.
func (c ConvertConfig) RenderOptions() render.Options {
	return render.Options{
		DPI:       c.DPI,
		Scale:     c.Scale,
		Width:     c.Width,
		Height:    c.Height,
		PageRange: c.PageRangeSpec(),
		Format:    c.Format,
		ColorMode: c.ColorMode,
		Rotation:  c.Rotation,
		Alpha:     c.Alpha && c.Format == render.FormatPNG,
	}
}

// Validate checks the config against the renderer constraints.
func (c ConvertConfig) Validate() error {
	switch c.Engine {
	case EngineText, EngineImage:
	default:
		return fmt.Errorf("%w: unknown convert engine %q", render.ErrInvalidOptions, c.Engine)
	}
	switch c.PageRangeMode {
	case PageRangeAll, PageRangeSingle:
	case PageRangeCustom:
		if strings.TrimSpace(c.PageRange) == "" {
			return fmt.Errorf("%w: custom page range is empty", render.ErrInvalidOptions)
		}
	default:
		return fmt.Errorf("%w: unknown page range mode %q", render.ErrInvalidOptions, c.PageRangeMode)
	}
	return c.RenderOptions().Validate()
}

// PageSize returns the pixel size of a page of the given point size with
// the current DPI and scale, honouring explicit width and height.
func (c ConvertConfig) PageSize(widthPt, heightPt float64) (int, int) {
	return c.RenderOptions().PageSize(widthPt, heightPt)
}

// ConversionMetrics describes one conversion.
type ConversionMetrics struct {
	Engine      string  `json:"engine"`
	TimeSeconds float64 `json:"time_seconds"`
	Pages       int     `json:"pages"`
}

// ConversionResult holds the pages of one converted file. Images and
// PageTexts are index aligned; a page without embedded text has "".
type ConversionResult struct {
	Images    []render.PageImage `json:"images"`
	PageTexts []string           `json:"page_texts"`
	Metrics   ConversionMetrics  `json:"metrics"`
}

// HasText reports whether any page carries embedded text.
func (r ConversionResult) HasText() bool {
	for _, t := range r.PageTexts {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

// ConvertedFile is the conversion of one source item.
type ConvertedFile struct {
	Item   explorer.Item    `json:"item"`
	Result ConversionResult `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// ConvertOutput groups conversions per source item.
type ConvertOutput struct {
	Files []ConvertedFile `json:"files"`
}

func (ConvertOutput) Kind() StageKind { return KindConvert }
func (ConvertOutput) stageOutput()    {}

// HasText reports whether any converted file carries embedded text.
func (o ConvertOutput) HasText() bool {
	for _, f := range o.Files {
		if f.Result.HasText() {
			return true
		}
	}
	return false
}

// RecognizeConfig has no settings of its own; engine language and
// resolution belong to the OCR session.
type RecognizeConfig struct{}

func (RecognizeConfig) Kind() StageKind { return KindRecognize }
func (RecognizeConfig) stageConfig()    {}

// RecognizeOutput is the job table of the recognized files.
type RecognizeOutput struct {
	Jobs    []batch.Job   `json:"jobs"`
	Metrics batch.Metrics `json:"metrics"`
}

func (RecognizeOutput) Kind() StageKind { return KindRecognize }
func (RecognizeOutput) stageOutput()    {}

// PostprocessConfig configures text clean-up.
type PostprocessConfig struct {
	Options postprocess.Options `json:"options" yaml:"options"`
}

func (PostprocessConfig) Kind() StageKind { return KindPostprocess }
func (PostprocessConfig) stageConfig()    {}

// TextOrigin tells where a document text came from.
type TextOrigin string

const (
	OriginRecognized TextOrigin = "recognized"
	OriginEmbedded   TextOrigin = "embedded"
)

// TextDocument is the text of one document.
type TextDocument struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Text   string     `json:"text"`
	Origin TextOrigin `json:"origin"`
}

// PostprocessOutput holds the cleaned documents.
type PostprocessOutput struct {
	Documents []TextDocument `json:"documents"`
}

func (PostprocessOutput) Kind() StageKind { return KindPostprocess }
func (PostprocessOutput) stageOutput()    {}

// DefaultConfig returns the default config for kind.
func DefaultConfig(kind StageKind) (StageConfig, error) {
	switch kind {
	case KindSource:
		return SourceConfig{}, nil
	case KindConvert:
		return DefaultConvertConfig(), nil
	case KindRecognize:
		return RecognizeConfig{}, nil
	case KindPostprocess:
		return PostprocessConfig{Options: postprocess.DefaultOptions()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStageKind, kind)
}
