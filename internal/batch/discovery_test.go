package batch

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, p := range []string{
		"docs/a.pdf",
		"docs/b.PNG",
		"docs/notes.txt",
		"docs/sub/c.jpg",
		"docs/.hidden/d.pdf",
		"single.tiff",
	} {
		require.NoError(t, afero.WriteFile(fs, p, []byte(p), 0o644))
	}
	return fs
}

func TestDiscover(t *testing.T) {
	fs := discoveryFS(t)

	tests := []struct {
		name string
		args []string
		opts DiscoverOptions
		want []string
	}{
		{
			name: "flat directory with default types",
			args: []string{"docs"},
			want: []string{"docs/a.pdf", "docs/b.PNG"},
		},
		{
			name: "recursive skips hidden dirs",
			args: []string{"docs"},
			opts: DiscoverOptions{Recursive: true},
			want: []string{"docs/a.pdf", "docs/b.PNG", "docs/sub/c.jpg"},
		},
		{
			name: "include and exclude",
			args: []string{"docs", "single.tiff"},
			opts: DiscoverOptions{Recursive: true, IncludePatterns: []string{"*.pdf", "*.tiff"}, ExcludePatterns: []string{"a.*"}},
			want: []string{"single.tiff"},
		},
		{
			name: "explicit file",
			args: []string{"single.tiff"},
			want: []string{"single.tiff"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discover(fs, tt.args, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscover_Missing(t *testing.T) {
	_, err := Discover(afero.NewMemMapFs(), []string{"nope"}, DiscoverOptions{})
	require.ErrorContains(t, err, "cannot access nope")
}

func TestFilesFromPaths(t *testing.T) {
	fs := discoveryFS(t)
	files := FilesFromPaths(fs, []string{"docs/a.pdf"})
	require.Len(t, files, 1)
	assert.Equal(t, "a.pdf", files[0].Name)

	data, err := files[0].Source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "docs/a.pdf", string(data))
}
