package explorer

import (
	"context"
	"testing"
	"time"

	"github.com/MeKo-Tech/docflow/internal/cache"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// countingClient records how often the inner client is hit.
type countingClient struct {
	Client
	fetches  int
	listings int
}

func (c *countingClient) FetchContent(ctx context.Context, driveID, itemID string) ([]byte, error) {
	c.fetches++
	return c.Client.FetchContent(ctx, driveID, itemID)
}

func (c *countingClient) ListFolder(ctx context.Context, driveID, parentID string) (Listing, error) {
	c.listings++
	return c.Client.ListFolder(ctx, driveID, parentID)
}

func newTestFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/data/invoices/old.pdf":         "%PDF old",
		"/data/invoices/new.pdf":         "%PDF new",
		"/data/invoices/2023/q1.png":     "png bytes",
		"/data/contracts/signed.pdf":     "%PDF signed",
		"/data/invoices/.hidden/skip.me": "x",
	}
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))
	}
	old := testNow.Add(-72 * time.Hour)
	for _, p := range []string{"/data/invoices", "/data/invoices/old.pdf", "/data/invoices/2023", "/data/contracts"} {
		require.NoError(t, fs.Chtimes(p, old, old))
	}
	recent := testNow.Add(-1 * time.Hour)
	require.NoError(t, fs.Chtimes("/data/invoices/new.pdf", recent, recent))
	return fs
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.New(cache.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return s
}

func TestFSClient_ListLibraries(t *testing.T) {
	c := NewFSClient(newTestFS(t), "/data")

	libs, err := c.ListLibraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 2)
	assert.Equal(t, "contracts", libs[0].ID)
	assert.Equal(t, "invoices", libs[1].ID)
}

func TestFSClient_ListFolder(t *testing.T) {
	c := NewFSClient(newTestFS(t), "/data")

	listing, err := c.ListFolder(context.Background(), "invoices", "")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "2023", listing.Folders[0].ID)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "new.pdf", listing.Files[0].Name)
	assert.Equal(t, "old.pdf", listing.Files[1].Name)
	assert.Equal(t, "application/pdf", listing.Files[1].MIME)

	sub, err := c.ListFolder(context.Background(), "invoices", "2023")
	require.NoError(t, err)
	require.Len(t, sub.Files, 1)
	assert.Equal(t, "2023/q1.png", sub.Files[0].ID)
	assert.Equal(t, "2023", sub.Files[0].ParentID)
}

func TestFSClient_Errors(t *testing.T) {
	c := NewFSClient(newTestFS(t), "/data")
	ctx := context.Background()

	_, err := c.FetchContent(ctx, "invoices", "missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchContent(ctx, "../etc", "passwd")
	require.ErrorIs(t, err, ErrNotFound)

	data, err := c.FetchContent(ctx, "invoices", "../../old.pdf")
	require.NoError(t, err, "paths are clamped inside the library")
	assert.Equal(t, "%PDF old", string(data))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.ListLibraries(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCachedClient_OldItemServedFromCache(t *testing.T) {
	inner := &countingClient{Client: NewFSClient(newTestFS(t), "/data")}
	c := NewCachedClient(inner, newTestStore(t), nil)
	ctx := context.Background()

	for range 3 {
		data, err := c.FetchContent(ctx, "invoices", "old.pdf")
		require.NoError(t, err)
		assert.Equal(t, "%PDF old", string(data))
	}
	assert.Equal(t, 1, inner.fetches)
}

func TestCachedClient_RecentItemAlwaysLive(t *testing.T) {
	inner := &countingClient{Client: NewFSClient(newTestFS(t), "/data")}
	store := newTestStore(t)
	c := NewCachedClient(inner, store, nil)
	ctx := context.Background()

	item, err := inner.Stat(ctx, "invoices", "new.pdf")
	require.NoError(t, err)

	// A stale entry for the same key must be ignored.
	key := cache.Key{DriveID: item.DriveID, ParentID: item.ParentID, ItemID: item.ID, ContentType: item.MIME}
	require.NoError(t, store.PutBytes(cache.NamespaceFileContent, key, []byte("stale"), item.MIME, item.Modified))

	for range 2 {
		data, err := c.FetchItem(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, "%PDF new", string(data))
	}
	assert.Equal(t, 2, inner.fetches)
}

func TestCachedClient_CorruptEntryRefetched(t *testing.T) {
	inner := &countingClient{Client: NewFSClient(newTestFS(t), "/data")}
	store := newTestStore(t)
	c := NewCachedClient(inner, store, nil)
	ctx := context.Background()

	item, err := inner.Stat(ctx, "invoices", "old.pdf")
	require.NoError(t, err)
	key := cache.Key{DriveID: item.DriveID, ParentID: item.ParentID, ItemID: item.ID, ContentType: item.MIME}
	require.NoError(t, store.Put(cache.NamespaceFileContent, key, cache.Entry{Payload: "@@@", Binary: true}))

	data, err := c.FetchItem(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "%PDF old", string(data))
	assert.Equal(t, 1, inner.fetches)

	data, err = c.FetchItem(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "%PDF old", string(data))
	assert.Equal(t, 1, inner.fetches, "repaired entry is served from cache")
}

func TestCachedClient_ListFolder(t *testing.T) {
	inner := &countingClient{Client: NewFSClient(newTestFS(t), "/data")}
	store := newTestStore(t)
	c := NewCachedClient(inner, store, nil)
	ctx := context.Background()

	first, err := c.ListFolder(ctx, "contracts", "")
	require.NoError(t, err)
	second, err := c.ListFolder(ctx, "contracts", "")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.listings)
	assert.Equal(t, first.Files[0].ID, second.Files[0].ID)
	assert.Equal(t, 1, store.Len(cache.NamespaceFolders))
	assert.Equal(t, 1, store.Len(cache.NamespaceFiles))
}

func TestCachedClient_RewrittenItemRefetched(t *testing.T) {
	fs := newTestFS(t)
	inner := &countingClient{Client: NewFSClient(fs, "/data")}
	now := testNow
	store, err := cache.New(cache.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	c := NewCachedClient(inner, store, nil)
	ctx := context.Background()

	data, err := c.FetchContent(ctx, "invoices", "old.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF old", string(data))

	require.NoError(t, afero.WriteFile(fs, "/data/invoices/old.pdf", []byte("%PDF v2"), 0o644))
	require.NoError(t, fs.Chtimes("/data/invoices/old.pdf", testNow, testNow))
	now = testNow.Add(48 * time.Hour)

	data, err = c.FetchContent(ctx, "invoices", "old.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF v2", string(data))
	assert.Equal(t, 2, inner.fetches)

	data, err = c.FetchContent(ctx, "invoices", "old.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF v2", string(data))
	assert.Equal(t, 2, inner.fetches, "the new revision replaces the cached one")
}

func TestCachedClient_RewrittenFolderRelisted(t *testing.T) {
	fs := newTestFS(t)
	inner := &countingClient{Client: NewFSClient(fs, "/data")}
	now := testNow
	store, err := cache.New(cache.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	c := NewCachedClient(inner, store, nil)
	ctx := context.Background()

	first, err := c.ListFolder(ctx, "contracts", "")
	require.NoError(t, err)
	require.Len(t, first.Files, 1)

	require.NoError(t, afero.WriteFile(fs, "/data/contracts/draft.pdf", []byte("%PDF draft"), 0o644))
	require.NoError(t, fs.Chtimes("/data/contracts", testNow, testNow))
	now = testNow.Add(48 * time.Hour)

	second, err := c.ListFolder(ctx, "contracts", "")
	require.NoError(t, err)
	assert.Len(t, second.Files, 2)
	assert.Equal(t, 2, inner.listings)
}
