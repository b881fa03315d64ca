package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// PageImage is one rendered page.
type PageImage struct {
	PageNumber int         `json:"page_number"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Format     Format      `json:"format"`
	Data       []byte      `json:"-"`
	Image      image.Image `json:"-"`
}

// transform applies size, colour, rotation and alpha handling to img and
// encodes the result.
func transform(img image.Image, width, height int, opts Options) (image.Image, []byte, error) {
	b := img.Bounds()
	if width > 0 && height > 0 && (b.Dx() != width || b.Dy() != height) {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	switch opts.ColorMode {
	case ColorModeGrayscale:
		img = imaging.Grayscale(img)
	case ColorModeBW:
		img = threshold(imaging.Grayscale(img), bwThreshold)
	}

	switch opts.Rotation {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}

	if opts.Format == FormatJPEG || !opts.Alpha {
		img = flatten(img)
	}

	var buf bytes.Buffer
	var err error
	switch opts.Format {
	case FormatJPEG:
		q := opts.JPEGQuality
		if q <= 0 || q > 100 {
			q = defaultJPEGQuality
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q))
	default:
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", opts.Format, err)
	}
	return img, buf.Bytes(), nil
}

func threshold(img *image.NRGBA, level uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R >= level {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// flatten composites img onto an opaque white background.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func blankPage(width, height int) image.Image {
	return imaging.New(width, height, color.White)
}
