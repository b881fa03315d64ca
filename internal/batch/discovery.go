package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/spf13/afero"
)

// DiscoverOptions controls local file discovery for the batch command.
type DiscoverOptions struct {
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

// DefaultIncludePatterns are the document types the renderer accepts.
var DefaultIncludePatterns = []string{"*.pdf", "*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.tif", "*.tiff"}

// Discover expands files and directories in args into a sorted file list.
func Discover(fs afero.Fs, args []string, opts DiscoverOptions) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := fs.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if shouldIncludeFile(arg, opts) {
				files = append(files, arg)
			}
			continue
		}
		found, err := discoverInDirectory(fs, arg, opts)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)
	return files, nil
}

func discoverInDirectory(fs afero.Fs, dir string, opts DiscoverOptions) ([]string, error) {
	var files []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && (!opts.Recursive || strings.HasPrefix(info.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIncludeFile(path, opts) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// shouldIncludeFile applies exclude patterns first, then include patterns.
// Without include patterns every supported document type is accepted.
func shouldIncludeFile(path string, opts DiscoverOptions) bool {
	if matchesAnyPattern(path, opts.ExcludePatterns) {
		return false
	}
	include := opts.IncludePatterns
	if len(include) == 0 {
		include = DefaultIncludePatterns
	}
	return matchesAnyPattern(path, include)
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), base); matched {
			return true
		}
	}
	return false
}

// FilesFromPaths turns local paths into batch files whose content is read
// lazily from fs.
func FilesFromPaths(fs afero.Fs, paths []string) []File {
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		files = append(files, File{
			ID:     p,
			Name:   filepath.Base(p),
			Source: ocr.Source{Name: p, Fetch: readFile(fs, p)},
		})
	}
	return files
}

func readFile(fs afero.Fs, path string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return afero.ReadFile(fs, path)
	}
}
