package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// TextExtractor returns the embedded text of selected pages, one string per
// page in selection order. Pages without text yield "".
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, pageRange string) ([]string, error)
}

// VectorTextExtractor reads the text layer of PDFs. Non-PDF inputs have a
// single page without text.
type VectorTextExtractor struct{}

// NewVectorTextExtractor creates a text extractor.
func NewVectorTextExtractor() *VectorTextExtractor { return &VectorTextExtractor{} }

// ExtractText implements TextExtractor.
func (e *VectorTextExtractor) ExtractText(ctx context.Context, data []byte, pageRange string) ([]string, error) {
	if !IsPDF(data) {
		if _, err := SelectPages(pageRange, 1); err != nil {
			return nil, err
		}
		return []string{""}, nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf text layer: %w", err)
	}
	pages, err := SelectPages(pageRange, reader.NumPage())
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		texts[i] = pageText(reader, p)
	}
	return texts, nil
}

// pageText prefers row-ordered text and falls back to the plain content stream text.
func pageText(reader *pdf.Reader, pageNum int) (text string) {
	// dslipak/pdf panics on some malformed content streams.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		var b strings.Builder
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				words = append(words, t.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String())
	}

	plain, err := page.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(plain)
}
