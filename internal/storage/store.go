package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/isbseq/fastq-gather/internal/layout"
)

// SummaryName is the key of the run summary within the output location.
const SummaryName = "_gather_summary.json"

// DirectoryCreationError reports an output location that could not be
// prepared. It is fatal before any artifact is written.
type DirectoryCreationError struct {
	Location string
	Err      error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("create output location %s: %v", e.Location, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error { return e.Err }

// Artifact is an output being written. Bytes are not visible under the
// final key until Commit succeeds; Abort discards them. Exactly one of
// Commit or Abort must be called.
type Artifact interface {
	io.Writer

	// Key returns the final key of the artifact.
	Key() string

	// Commit finalizes and publishes the artifact.
	Commit() (*ObjectInfo, error)

	// Abort discards everything written so far.
	Abort() error
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key      string
	URI      string
	Size     int64
	Checksum string // sha256 of the stored bytes
	ModTime  time.Time
}

// SampleStore abstracts the location that receives per-sample artifacts.
type SampleStore interface {
	// Ensure prepares the output location. It is idempotent and never
	// alters existing contents.
	Ensure(ctx context.Context) error

	// Create starts a new artifact for a sample. Any artifact already
	// published for the sample is replaced on Commit.
	Create(ctx context.Context, sampleID string) (Artifact, error)

	// Exists checks if an artifact is already published for a sample.
	Exists(ctx context.Context, sampleID string) (bool, error)

	// WriteSummary writes the run summary.
	WriteSummary(ctx context.Context, summary *Summary) error

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Summary describes the artifacts produced by one run.
type Summary struct {
	Run       RunInfo        `json:"run"`
	Artifacts []ArtifactInfo `json:"artifacts"`
	Producer  ProducerInfo   `json:"producer"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunInfo describes the run as a whole.
type RunInfo struct {
	ID         string    `json:"id"`
	Manifest   string    `json:"manifest,omitempty"`
	Source     string    `json:"source"`
	SameSample string    `json:"same_sample"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Failed     int       `json:"failed"`
	Empty      int       `json:"empty"`
}

// ArtifactInfo describes one published artifact.
type ArtifactInfo struct {
	SampleID    string   `json:"sample_id"`
	File        string   `json:"file"`
	URI         string   `json:"uri"`
	Checksum    string   `json:"checksum"`
	ByteSize    int64    `json:"byte_size"`
	RawBytes    int64    `json:"raw_bytes"`
	SourceFiles int      `json:"source_files"`
	Rows        []RowRef `json:"rows"`
}

// RowRef identifies a manifest row that contributed to an artifact.
type RowRef struct {
	Group   string `json:"group"`
	Barcode int    `json:"barcode"`
}

// ProducerInfo describes the software that produced the artifacts.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the summary as indented JSON bytes.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type Alias Summary
	return json.MarshalIndent((*Alias)(s), "", "  ")
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "url"

	// Local filesystem
	LocalDir string // raw/

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Any gocloud.dev bucket URL
	URL string

	// Common
	Prefix string // path prefix within bucket
}

// NewSampleStore creates a storage backend based on configuration.
func NewSampleStore(ctx context.Context, cfg StorageConfig) (SampleStore, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir), nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.S3Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	case "url":
		if cfg.URL == "" {
			return nil, fmt.Errorf("URL required for url backend")
		}
		return OpenBucketStore(ctx, cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// ArtifactKey returns the key of a sample's artifact relative to the store.
func ArtifactKey(sampleID string) string {
	return layout.ArtifactName(sampleID)
}
