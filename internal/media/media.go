// Package media provides the media-source capability used by the rotation
// allocator: list the publishable files of a directory, deterministically.
package media

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source lists media files for directory-cycle rotation.
//
// Implementations must return a deterministic order: the allocator's cursor
// arithmetic depends on it.
type Source interface {
	ListDirectory(ctx context.Context, path string) ([]string, error)
}

// DefaultExtensions is the allowed media set when none is configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}

// FS is the filesystem-backed Source.
type FS struct {
	exts map[string]struct{}
}

// NewFS builds a filesystem source restricted to the given extensions
// (dot-prefixed, case-insensitive). An empty list falls back to
// DefaultExtensions.
func NewFS(exts []string) *FS {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m[e] = struct{}{}
	}
	return &FS{exts: m}
}

// ListDirectory returns the matching filenames of path, sorted
// lexicographically. Subdirectories are skipped.
func (f *FS) ListDirectory(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, ok := f.exts[ext]; !ok {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
