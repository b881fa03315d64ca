package render

import "errors"

var (
	// ErrUnsupportedDocument is returned for inputs that are neither PDF nor a decodable image.
	ErrUnsupportedDocument = errors.New("unsupported document type")

	// ErrInvalidOptions is returned by Options.Validate.
	ErrInvalidOptions = errors.New("invalid render options")

	// ErrNoPages is returned when a page selection leaves nothing to render.
	ErrNoPages = errors.New("no pages selected")

	// ErrPageOutOfRange is returned for page numbers outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
)
