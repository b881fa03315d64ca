package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileBackend stores each namespace as one JSON document under dir.
type FileBackend struct {
	fs  afero.Fs
	dir string
}

// NewFileBackend creates the cache directory if needed.
func NewFileBackend(fs afero.Fs, dir string) (*FileBackend, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &FileBackend{fs: fs, dir: dir}, nil
}

func (b *FileBackend) path(ns Namespace) string {
	return filepath.Join(b.dir, string(ns)+".json")
}

// Load reads a namespace. A missing file is an empty namespace.
func (b *FileBackend) Load(ns Namespace) (map[string]Entry, error) {
	data, err := afero.ReadFile(b.fs, b.path(ns))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}
	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, b.path(ns), err)
	}
	return entries, nil
}

// Save replaces the namespace file, writing to a temp file first.
func (b *FileBackend) Save(ns Namespace, entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := b.path(ns) + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o600); err != nil {
		return err
	}
	return b.fs.Rename(tmp, b.path(ns))
}

// Remove deletes the namespace file.
func (b *FileBackend) Remove(ns Namespace) error {
	err := b.fs.Remove(b.path(ns))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
