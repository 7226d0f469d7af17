package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LocalStore writes sample artifacts to a local directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a new local filesystem store. The directory is not
// touched until Ensure is called.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Ensure creates the output directory if it is absent.
func (s *LocalStore) Ensure(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err == nil {
		if !info.IsDir() {
			return &DirectoryCreationError{Location: s.dir, Err: errors.New("exists and is not a directory")}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return &DirectoryCreationError{Location: s.dir, Err: err}
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &DirectoryCreationError{Location: s.dir, Err: err}
	}
	return nil
}

// Create opens a temporary file next to the artifact's final path.
func (s *LocalStore) Create(ctx context.Context, sampleID string) (Artifact, error) {
	key := ArtifactKey(sampleID)
	path := filepath.Join(s.dir, key)
	tempPath := path + ".tmp." + uuid.New().String()

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	return &localArtifact{
		key:      key,
		path:     path,
		tempPath: tempPath,
		uri:      s.URI(key),
		file:     f,
		hw:       newHashingWriter(f),
	}, nil
}

// Exists checks if a sample's artifact already exists.
func (s *LocalStore) Exists(ctx context.Context, sampleID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, ArtifactKey(sampleID)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// WriteSummary writes the run summary atomically using temp file + rename.
func (s *LocalStore) WriteSummary(ctx context.Context, summary *Summary) error {
	path := filepath.Join(s.dir, SummaryName)

	data, err := summary.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(filepath.Join(s.dir, key))
	if err != nil {
		absPath = filepath.Join(s.dir, key)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

type localArtifact struct {
	key      string
	path     string
	tempPath string
	uri      string
	file     *os.File
	hw       *hashingWriter
	done     bool
}

func (a *localArtifact) Write(p []byte) (int, error) {
	return a.hw.Write(p)
}

func (a *localArtifact) Key() string { return a.key }

// Commit syncs the temp file and renames it over the final path.
func (a *localArtifact) Commit() (*ObjectInfo, error) {
	if a.done {
		return nil, errors.New("artifact already finished")
	}
	a.done = true

	if err := a.file.Sync(); err != nil {
		a.file.Close()
		os.Remove(a.tempPath)
		return nil, fmt.Errorf("sync %s: %w", a.tempPath, err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(a.tempPath)
		return nil, fmt.Errorf("close %s: %w", a.tempPath, err)
	}
	if err := os.Rename(a.tempPath, a.path); err != nil {
		os.Remove(a.tempPath)
		return nil, fmt.Errorf("rename %s to %s: %w", a.tempPath, a.path, err)
	}

	return &ObjectInfo{
		Key:      a.key,
		URI:      a.uri,
		Size:     a.hw.n,
		Checksum: a.hw.checksum(),
		ModTime:  time.Now().UTC(),
	}, nil
}

// Abort closes and removes the temp file.
func (a *localArtifact) Abort() error {
	if a.done {
		return nil
	}
	a.done = true

	a.file.Close()
	if err := os.Remove(a.tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", a.tempPath, err)
	}
	return nil
}

// Verify LocalStore implements SampleStore.
var _ SampleStore = (*LocalStore)(nil)
