package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// LibraryFile is one file placed into a test library tree.
type LibraryFile struct {
	Path     string // relative to the library root, e.g. "invoices/a.pdf"
	Data     []byte
	Modified time.Time
}

// NewLibraryFS lays files out under root on an in-memory filesystem and
// stamps every file and directory with its modification time. Directories
// take the oldest time of the files below them.
func NewLibraryFS(t *testing.T, root string, files ...LibraryFile) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	dirTimes := map[string]time.Time{}
	for _, f := range files {
		p := filepath.Join(root, f.Path)
		require.NoError(t, afero.WriteFile(fs, p, f.Data, 0o644))
		for dir := filepath.Dir(p); dir != root && dir != "/" && dir != "."; dir = filepath.Dir(dir) {
			if cur, ok := dirTimes[dir]; !ok || f.Modified.Before(cur) {
				dirTimes[dir] = f.Modified
			}
		}
	}
	for _, f := range files {
		require.NoError(t, fs.Chtimes(filepath.Join(root, f.Path), f.Modified, f.Modified))
	}
	for dir, mod := range dirTimes {
		require.NoError(t, fs.Chtimes(dir, mod, mod))
	}
	return fs
}
