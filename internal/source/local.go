package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
)

// LocalSource reads raw read files from the local filesystem.
type LocalSource struct {
	root string
}

// NewLocalSource creates a new local filesystem source rooted at root.
func NewLocalSource(root string) (*LocalSource, error) {
	// Verify path exists
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("invalid local path %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path %s is not a directory", root)
	}

	return &LocalSource{root: root}, nil
}

// Enumerate lists regular files in the pattern's directory whose names
// match its base. Symlinks to files are followed.
func (s *LocalSource) Enumerate(ctx context.Context, pattern string) ([]string, error) {
	dir, base, err := splitPattern(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[source:local] no directory for %s", pattern)
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchBase(base, e.Name()) {
			continue
		}

		name := path.Join(dir, e.Name())
		if !e.Type().IsRegular() {
			// Directories and sockets are skipped; symlinks count when
			// they resolve to a regular file.
			info, err := os.Stat(s.path(name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}
		names = append(names, name)
	}
	return names, nil
}

// Open opens a file returned by Enumerate.
func (s *LocalSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Location returns the source root directory.
func (s *LocalSource) Location() string {
	abs, err := filepath.Abs(s.root)
	if err != nil {
		return s.root
	}
	return abs
}

// Close is a no-op for local sources.
func (s *LocalSource) Close() error {
	return nil
}

func (s *LocalSource) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Verify LocalSource implements ReadSource.
var _ ReadSource = (*LocalSource)(nil)
