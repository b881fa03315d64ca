package explorer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MeKo-Tech/docflow/internal/cache"
	"github.com/MeKo-Tech/docflow/internal/metrics"
)

const (
	listingFolders = "children/folders"
	listingFiles   = "children/files"
)

// CachedClient wraps a Client with the content cache. Only items whose
// modified time is older than the store's freshness threshold are read from
// or written to the cache; fresher items always go to the inner client.
type CachedClient struct {
	inner  Client
	store  *cache.Store
	logger *slog.Logger
}

// NewCachedClient decorates inner with store.
func NewCachedClient(inner Client, store *cache.Store, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{inner: inner, store: store, logger: logger}
}

// ListLibraries is never cached.
func (c *CachedClient) ListLibraries(ctx context.Context) ([]Library, error) {
	return c.inner.ListLibraries(ctx)
}

// Stat is never cached; it is what the freshness decision is based on.
func (c *CachedClient) Stat(ctx context.Context, driveID, itemID string) (Item, error) {
	return c.inner.Stat(ctx, driveID, itemID)
}

// ListFolder serves a folder listing from the folders and files namespaces
// when the folder itself is old enough.
func (c *CachedClient) ListFolder(ctx context.Context, driveID, parentID string) (Listing, error) {
	folder, err := c.inner.Stat(ctx, driveID, parentID)
	if err != nil {
		return Listing{}, err
	}
	folderKey := cache.Key{DriveID: driveID, ParentID: parentID, ItemID: folder.ID, ContentType: listingFolders}
	fileKey := cache.Key{DriveID: driveID, ParentID: parentID, ItemID: folder.ID, ContentType: listingFiles}

	if !c.store.Eligible(folder.Modified) {
		metrics.CacheLookupsTotal.WithLabelValues(string(cache.NamespaceFolders), "bypass").Inc()
		return c.inner.ListFolder(ctx, driveID, parentID)
	}

	if listing, ok := c.cachedListing(driveID, parentID, folderKey, fileKey, folder); ok {
		return listing, nil
	}

	listing, err := c.inner.ListFolder(ctx, driveID, parentID)
	if err != nil {
		return Listing{}, err
	}
	c.storeJSON(cache.NamespaceFolders, folderKey, listing.Folders, folder)
	c.storeJSON(cache.NamespaceFiles, fileKey, listing.Files, folder)
	return listing, nil
}

// FetchContent looks up the item and delegates to FetchItem.
func (c *CachedClient) FetchContent(ctx context.Context, driveID, itemID string) ([]byte, error) {
	item, err := c.inner.Stat(ctx, driveID, itemID)
	if err != nil {
		return nil, err
	}
	return c.FetchItem(ctx, item)
}

// FetchItem returns the bytes of item, using the fileContent namespace when
// the item is eligible.
func (c *CachedClient) FetchItem(ctx context.Context, item Item) ([]byte, error) {
	key := cache.Key{DriveID: item.DriveID, ParentID: item.ParentID, ItemID: item.ID, ContentType: item.MIME}

	if !c.store.Eligible(item.Modified) {
		metrics.CacheLookupsTotal.WithLabelValues(string(cache.NamespaceFileContent), "bypass").Inc()
		return c.inner.FetchContent(ctx, item.DriveID, item.ID)
	}

	if data, ok := c.cachedContent(key, item); ok {
		return data, nil
	}

	data, err := c.inner.FetchContent(ctx, item.DriveID, item.ID)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutBytes(cache.NamespaceFileContent, key, data, item.MIME, item.Modified); err != nil {
		c.logger.Warn("failed to cache content", "key", key.String(), "error", err)
	}
	return data, nil
}

// cachedContent returns the stored bytes for item. An entry recorded for a
// different modified time belongs to an older revision and counts as a miss.
func (c *CachedClient) cachedContent(key cache.Key, item Item) ([]byte, bool) {
	e, ok, err := c.store.Get(cache.NamespaceFileContent, key)
	if err != nil || !ok {
		return nil, false
	}
	if !e.Modified.Equal(item.Modified) {
		metrics.CacheLookupsTotal.WithLabelValues(string(cache.NamespaceFileContent), "outdated").Inc()
		return nil, false
	}
	data, err := cache.DecodeBinary(e.Payload)
	if err != nil {
		c.logger.Warn("discarding unreadable cache entry", "key", key.String(), "error", err)
		return nil, false
	}
	return data, true
}

func (c *CachedClient) cachedListing(driveID, parentID string, folderKey, fileKey cache.Key, folder Item) (Listing, bool) {
	listing := Listing{DriveID: driveID, ParentID: parentID}
	if !c.loadJSON(cache.NamespaceFolders, folderKey, folder, &listing.Folders) {
		return Listing{}, false
	}
	if !c.loadJSON(cache.NamespaceFiles, fileKey, folder, &listing.Files) {
		return Listing{}, false
	}
	return listing, true
}

func (c *CachedClient) loadJSON(ns cache.Namespace, key cache.Key, folder Item, out any) bool {
	e, ok, err := c.store.Get(ns, key)
	if err != nil || !ok {
		return false
	}
	if !e.Modified.Equal(folder.Modified) {
		metrics.CacheLookupsTotal.WithLabelValues(string(ns), "outdated").Inc()
		return false
	}
	if err := json.Unmarshal([]byte(e.Payload), out); err != nil {
		c.logger.Warn("discarding unreadable cache entry", "namespace", ns, "key", key.String(), "error", err)
		return false
	}
	return true
}

func (c *CachedClient) storeJSON(ns cache.Namespace, key cache.Key, v any, folder Item) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.PutText(ns, key, string(data), "application/json", folder.Modified); err != nil {
		c.logger.Warn("failed to cache listing", "namespace", ns, "key", key.String(), "error", err)
	}
}
