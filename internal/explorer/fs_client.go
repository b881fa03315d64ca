package explorer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FSClient serves libraries from a directory tree: every directory directly
// under root is a library, item ids are slash separated paths inside it.
type FSClient struct {
	fs   afero.Fs
	root string
}

// NewFSClient creates a file-system backed client.
func NewFSClient(fs afero.Fs, root string) *FSClient {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FSClient{fs: fs, root: root}
}

// ListLibraries returns the top-level directories sorted by name.
func (c *FSClient) ListLibraries(ctx context.Context) ([]Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		return nil, fmt.Errorf("read library root %s: %w", c.root, err)
	}
	libs := make([]Library, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		libs = append(libs, Library{ID: info.Name(), Name: info.Name(), Modified: info.ModTime()})
	}
	return libs, nil
}

// ListFolder lists one folder, folders first, each group sorted by name.
func (c *FSClient) ListFolder(ctx context.Context, driveID, parentID string) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	dir, err := c.resolve(driveID, parentID)
	if err != nil {
		return Listing{}, err
	}
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return Listing{}, c.wrap(driveID, parentID, err)
	}
	listing := Listing{DriveID: driveID, ParentID: parentID}
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		item := c.item(driveID, parentID, info)
		if item.Folder {
			listing.Folders = append(listing.Folders, item)
		} else {
			listing.Files = append(listing.Files, item)
		}
	}
	sort.Slice(listing.Folders, func(i, j int) bool { return listing.Folders[i].Name < listing.Folders[j].Name })
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Name < listing.Files[j].Name })
	return listing, nil
}

// Stat returns the metadata of a single item. An empty itemID is the library root.
func (c *FSClient) Stat(ctx context.Context, driveID, itemID string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	p, err := c.resolve(driveID, itemID)
	if err != nil {
		return Item{}, err
	}
	info, err := c.fs.Stat(p)
	if err != nil {
		return Item{}, c.wrap(driveID, itemID, err)
	}
	if itemID == "" {
		return Item{DriveID: driveID, Name: driveID, Folder: true, Modified: info.ModTime()}, nil
	}
	parent := path.Dir(itemID)
	if parent == "." {
		parent = ""
	}
	return c.item(driveID, parent, info), nil
}

// FetchContent reads the bytes of a file.
func (c *FSClient) FetchContent(ctx context.Context, driveID, itemID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.resolve(driveID, itemID)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs, p)
	if err != nil {
		return nil, c.wrap(driveID, itemID, err)
	}
	return data, nil
}

func (c *FSClient) item(driveID, parentID string, info os.FileInfo) Item {
	item := Item{
		ID:       path.Join(parentID, info.Name()),
		DriveID:  driveID,
		ParentID: parentID,
		Name:     info.Name(),
		Folder:   info.IsDir(),
		Modified: info.ModTime(),
	}
	if !item.Folder {
		item.Size = info.Size()
		item.MIME = mime.TypeByExtension(strings.ToLower(filepath.Ext(info.Name())))
	}
	return item
}

// resolve maps a library and item id to a path below root, refusing escapes.
func (c *FSClient) resolve(driveID, itemID string) (string, error) {
	if driveID == "" || strings.ContainsAny(driveID, `/\`) || driveID == ".." {
		return "", fmt.Errorf("%w: library %q", ErrNotFound, driveID)
	}
	clean := path.Clean("/" + itemID)
	return filepath.Join(c.root, driveID, filepath.FromSlash(clean)), nil
}

func (c *FSClient) wrap(driveID, itemID string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, driveID, itemID)
	}
	return fmt.Errorf("%s/%s: %w", driveID, itemID, err)
}
