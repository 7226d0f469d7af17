package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
)

// BucketStore writes sample artifacts to a gocloud.dev bucket.
//
// Blob writers only publish on a successful Close, and canceling the
// writer's context before Close discards the upload, so no temp key and
// copy step is needed.
type BucketStore struct {
	bucket  *blob.Bucket
	baseURI string
	prefix  string
}

// NewBucketStore wraps an open bucket. baseURI is used to build artifact
// URIs (e.g. "gs://bucket"). The store takes ownership of the bucket.
func NewBucketStore(bucket *blob.Bucket, baseURI, prefix string) *BucketStore {
	return &BucketStore{
		bucket:  bucket,
		baseURI: strings.TrimSuffix(baseURI, "/"),
		prefix:  normalizePrefix(prefix),
	}
}

// OpenBucketStore opens a bucket by URL, e.g. "mem://" or "file:///data/raw".
func OpenBucketStore(ctx context.Context, bucketURL, prefix string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	base := bucketURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return NewBucketStore(bucket, base, prefix), nil
}

// Ensure verifies the bucket is reachable. Buckets have no directories to
// create.
func (s *BucketStore) Ensure(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return &DirectoryCreationError{Location: s.URI(s.prefix), Err: err}
	}
	if !ok {
		return &DirectoryCreationError{Location: s.URI(s.prefix), Err: errors.New("bucket not accessible")}
	}
	return nil
}

// Create opens a blob writer for the sample's artifact.
func (s *BucketStore) Create(ctx context.Context, sampleID string) (Artifact, error) {
	key := s.prefix + ArtifactKey(sampleID)

	wctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}

	return &bucketArtifact{
		key:    key,
		uri:    s.URI(key),
		w:      w,
		hw:     newHashingWriter(w),
		cancel: cancel,
	}, nil
}

// Exists checks if a sample's artifact already exists in the bucket.
func (s *BucketStore) Exists(ctx context.Context, sampleID string) (bool, error) {
	return s.bucket.Exists(ctx, s.prefix+ArtifactKey(sampleID))
}

// WriteSummary writes the run summary to the bucket.
func (s *BucketStore) WriteSummary(ctx context.Context, summary *Summary) error {
	key := s.prefix + SummaryName

	data, err := summary.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write summary to %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *BucketStore) URI(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURI, key)
}

// Close releases the bucket connection.
func (s *BucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

type bucketArtifact struct {
	key    string
	uri    string
	w      *blob.Writer
	hw     *hashingWriter
	cancel context.CancelFunc
	done   bool
}

func (a *bucketArtifact) Write(p []byte) (int, error) {
	return a.hw.Write(p)
}

func (a *bucketArtifact) Key() string { return a.key }

func (a *bucketArtifact) Commit() (*ObjectInfo, error) {
	if a.done {
		return nil, errors.New("artifact already finished")
	}
	a.done = true
	defer a.cancel()

	if err := a.w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", a.key, err)
	}

	return &ObjectInfo{
		Key:      a.key,
		URI:      a.uri,
		Size:     a.hw.n,
		Checksum: a.hw.checksum(),
		ModTime:  time.Now().UTC(),
	}, nil
}

func (a *bucketArtifact) Abort() error {
	if a.done {
		return nil
	}
	a.done = true

	// Canceling before Close discards the upload; the Close error is the
	// expected cancellation.
	a.cancel()
	a.w.Close()
	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Verify BucketStore implements SampleStore.
var _ SampleStore = (*BucketStore)(nil)
