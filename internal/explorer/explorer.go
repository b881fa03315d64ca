// Package explorer provides access to the remote file store that documents
// are selected from, plus a caching decorator gated on item freshness.
package explorer

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown libraries or items.
var ErrNotFound = errors.New("item not found")

// Library is a top-level document library (a drive).
type Library struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Modified time.Time `json:"modified"`
}

// Item is a file or folder inside a library.
type Item struct {
	ID       string    `json:"id"`
	DriveID  string    `json:"drive_id"`
	ParentID string    `json:"parent_id"`
	Name     string    `json:"name"`
	Folder   bool      `json:"folder"`
	Size     int64     `json:"size"`
	MIME     string    `json:"mime,omitempty"`
	Modified time.Time `json:"modified"`
}

// Listing is the content of one folder, split into folders and files.
type Listing struct {
	DriveID  string `json:"drive_id"`
	ParentID string `json:"parent_id"`
	Folders  []Item `json:"folders"`
	Files    []Item `json:"files"`
}

// Client is the file-store contract used by the engine. An empty parentID
// addresses the library root.
type Client interface {
	ListLibraries(ctx context.Context) ([]Library, error)
	ListFolder(ctx context.Context, driveID, parentID string) (Listing, error)
	Stat(ctx context.Context, driveID, itemID string) (Item, error)
	FetchContent(ctx context.Context, driveID, itemID string) ([]byte, error)
}
