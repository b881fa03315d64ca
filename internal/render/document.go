package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
)

const (
	letterWidthPt  = 612.0
	letterHeightPt = 792.0
)

// Document is an opened multi-page input.
type Document interface {
	PageCount() int
	RenderPage(ctx context.Context, page int, opts Options) (PageImage, error)
}

// Rasterizer opens raw document bytes for page rendering.
type Rasterizer interface {
	Open(data []byte) (Document, error)
}

// Renderer opens PDFs with pdfcpu and everything else with the registered
// image decoders. Plain images are single-page documents.
type Renderer struct {
	conf   *model.Configuration
	logger *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Renderer{conf: conf, logger: logger}
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-"))
}

// Open parses data.
func (r *Renderer) Open(data []byte) (Document, error) {
	if IsPDF(data) {
		return r.openPDF(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedDocument, err)
	}
	return &imageDocument{img: img}, nil
}

func (r *Renderer) openPDF(data []byte) (Document, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), r.conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		r.logger.Debug("page dimensions unavailable, assuming letter size", "error", err)
		dims = nil
	}
	doc := &pdfDocument{ctx: ctx, logger: r.logger, sizes: make([][2]float64, ctx.PageCount)}
	for i := range doc.sizes {
		doc.sizes[i] = [2]float64{letterWidthPt, letterHeightPt}
		if i < len(dims) && dims[i].Width > 0 && dims[i].Height > 0 {
			doc.sizes[i] = [2]float64{dims[i].Width, dims[i].Height}
		}
	}
	return doc, nil
}

// RasterizeAll renders the pages selected by opts.PageRange.
func RasterizeAll(ctx context.Context, r Rasterizer, data []byte, opts Options) ([]PageImage, error) {
	doc, err := r.Open(data)
	if err != nil {
		return nil, err
	}
	pages, err := SelectPages(opts.PageRange, doc.PageCount())
	if err != nil {
		return nil, err
	}
	out := make([]PageImage, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.RenderPage(ctx, p, opts)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		out = append(out, img)
	}
	return out, nil
}

type pdfDocument struct {
	ctx    *model.Context
	sizes  [][2]float64
	logger *slog.Logger
}

func (d *pdfDocument) PageCount() int { return d.ctx.PageCount }

// RenderPage uses the largest embedded image of the page. Pages without
// raster content render as blank pages of the page's size.
func (d *pdfDocument) RenderPage(ctx context.Context, page int, opts Options) (PageImage, error) {
	if err := ctx.Err(); err != nil {
		return PageImage{}, err
	}
	if page < 1 || page > d.ctx.PageCount {
		return PageImage{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, d.ctx.PageCount)
	}
	width, height := opts.PageSize(d.sizes[page-1][0], d.sizes[page-1][1])

	images, err := pdfcpu.ExtractPageImages(d.ctx, page, false)
	if err != nil {
		return PageImage{}, fmt.Errorf("extract page images: %w", err)
	}
	var best image.Image
	bestArea := 0
	for _, mi := range images {
		img, _, err := image.Decode(mi)
		if err != nil {
			d.logger.Debug("skipping undecodable page image", "page", page, "type", mi.FileType, "error", err)
			continue
		}
		if area := img.Bounds().Dx() * img.Bounds().Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	if best == nil {
		best = blankPage(width, height)
	}
	return finish(page, best, width, height, opts)
}

type imageDocument struct {
	img image.Image
}

func (d *imageDocument) PageCount() int { return 1 }

func (d *imageDocument) RenderPage(ctx context.Context, page int, opts Options) (PageImage, error) {
	if err := ctx.Err(); err != nil {
		return PageImage{}, err
	}
	if page != 1 {
		return PageImage{}, fmt.Errorf("%w: %d of 1", ErrPageOutOfRange, page)
	}
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		scale := opts.Scale
		if scale <= 0 {
			scale = 1
		}
		b := d.img.Bounds()
		width = max(int(float64(b.Dx())*scale), 1)
		height = max(int(float64(b.Dy())*scale), 1)
	}
	return finish(page, d.img, width, height, opts)
}

func finish(page int, img image.Image, width, height int, opts Options) (PageImage, error) {
	out, data, err := transform(img, width, height, opts)
	if err != nil {
		return PageImage{}, err
	}
	b := out.Bounds()
	return PageImage{
		PageNumber: page,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     opts.Format,
		Data:       data,
		Image:      out,
	}, nil
}
