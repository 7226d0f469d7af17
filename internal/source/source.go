package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// ReadSource enumerates and opens raw read files.
//
// Names returned by Enumerate are slash-separated and relative to the
// source root; they are valid arguments to Open. An empty result is not an
// error, and a pattern whose directory does not exist matches nothing.
type ReadSource interface {
	Enumerate(ctx context.Context, pattern string) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Location describes the source root for logs and summaries.
	Location() string
	Close() error
}

// SourceConfig selects and configures a read source backend.
type SourceConfig struct {
	Backend string // "local" | "gcs" | "s3" | "url"

	// Local filesystem
	LocalRoot string

	// GCS / S3
	Bucket   string
	Prefix   string
	Endpoint string // custom endpoint for B2/MinIO/R2
	Region   string

	// Any gocloud.dev bucket URL (mem://, file:///..., gs://...)
	URL string
}

var ErrInvalidSourceBackend = errors.New("invalid source backend")

// NewReadSource constructs a read source based on the configured backend.
func NewReadSource(ctx context.Context, cfg SourceConfig) (ReadSource, error) {
	switch cfg.Backend {
	case "", "local":
		root := cfg.LocalRoot
		if root == "" {
			root = "."
		}
		return NewLocalSource(root)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs source")
		}
		return NewGCSSource(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 source")
		}
		return NewS3Source(ctx, cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	case "url":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for url source")
		}
		return OpenBucketSource(ctx, cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSourceBackend, cfg.Backend)
	}
}

// splitPattern separates the literal directory of a pattern from the file
// name glob. Only the base name is treated as a pattern, so run or barcode
// directories containing glob metacharacters are matched literally.
func splitPattern(pattern string) (dir, base string, err error) {
	dir, base = path.Split(pattern)
	if base == "" {
		return "", "", fmt.Errorf("pattern %q has no file component", pattern)
	}
	if _, err := doublestar.Match(base, ""); err != nil {
		return "", "", fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return dir, base, nil
}

// matchBase matches a file name against the base of a pattern with shell
// semantics: a wildcard never matches a leading dot, so hidden files such as
// "._reads.fastq" are only selected by a pattern that itself starts with ".".
func matchBase(base, name string) bool {
	if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
		return false
	}
	ok, _ := doublestar.Match(base, name)
	return ok
}
