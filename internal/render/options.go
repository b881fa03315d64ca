package render

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ColorMode selects the colour space of rendered pages.
type ColorMode string

const (
	ColorModeColor     ColorMode = "color"
	ColorModeGrayscale ColorMode = "grayscale"
	ColorModeBW        ColorMode = "bw"
)

// Format is the encoding of rendered pages.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// SupportedDPIs lists the resolutions offered to users.
var SupportedDPIs = []int{72, 96, 150, 200, 300, 400, 600}

const (
	// RecognitionDPI is the resolution used when rendering for OCR.
	RecognitionDPI = 300
	// RecognitionScale is the scale factor used when rendering for OCR.
	RecognitionScale = 2.0

	bwThreshold        = 128
	defaultJPEGQuality = 90
)

// Options controls page rasterization.
type Options struct {
	DPI         int       `json:"dpi" yaml:"dpi"`
	Scale       float64   `json:"scale" yaml:"scale"`
	Width       int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height      int       `json:"height,omitempty" yaml:"height,omitempty"`
	PageRange   string    `json:"page_range,omitempty" yaml:"page_range,omitempty"`
	Format      Format    `json:"format" yaml:"format"`
	ColorMode   ColorMode `json:"color_mode" yaml:"color_mode"`
	Rotation    int       `json:"rotation" yaml:"rotation"`
	Alpha       bool      `json:"alpha" yaml:"alpha"`
	JPEGQuality int       `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`
}

// DefaultOptions returns the defaults used by the Convert stage.
func DefaultOptions() Options {
	return Options{
		DPI:       150,
		Scale:     1.0,
		Format:    FormatPNG,
		ColorMode: ColorModeColor,
	}
}

// RecognitionOptions returns the fixed settings used by the OCR session.
func RecognitionOptions() Options {
	return Options{
		DPI:       RecognitionDPI,
		Scale:     RecognitionScale,
		Format:    FormatPNG,
		ColorMode: ColorModeColor,
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if !slices.Contains(SupportedDPIs, o.DPI) {
		return fmt.Errorf("%w: dpi %d (must be one of %v)", ErrInvalidOptions, o.DPI, SupportedDPIs)
	}
	if o.Scale <= 0 || math.IsNaN(o.Scale) || math.IsInf(o.Scale, 0) {
		return fmt.Errorf("%w: scale must be positive, got %v", ErrInvalidOptions, o.Scale)
	}
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("%w: negative width or height", ErrInvalidOptions)
	}
	switch o.Format {
	case FormatPNG, FormatJPEG:
	default:
		return fmt.Errorf("%w: format %q", ErrInvalidOptions, o.Format)
	}
	switch o.ColorMode {
	case ColorModeColor, ColorModeGrayscale, ColorModeBW:
	default:
		return fmt.Errorf("%w: color mode %q", ErrInvalidOptions, o.ColorMode)
	}
	switch o.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalidOptions, o.Rotation)
	}
	if _, err := ParsePageRange(o.PageRange); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// PageSize converts a page size in PDF points to pixels for these options.
// Explicit Width and Height win over the DPI and scale derived size.
func (o Options) PageSize(widthPt, heightPt float64) (int, int) {
	if o.Width > 0 && o.Height > 0 {
		return o.Width, o.Height
	}
	f := float64(o.DPI) / 72.0 * o.Scale
	w := int(math.Round(widthPt * f))
	h := int(math.Round(heightPt * f))
	return max(w, 1), max(h, 1)
}

// ParseFormat accepts png, jpeg and jpg.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png", "":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: format %q", ErrInvalidOptions, s)
}

// MIME returns the content type for f.
func (f Format) MIME() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}
