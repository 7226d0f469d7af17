package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
)

// BucketSource reads raw read files from any gocloud.dev bucket.
// GCS and S3 sources are BucketSources opened with the matching driver.
type BucketSource struct {
	bucket   *blob.Bucket
	prefix   string
	location string
}

// NewBucketSource wraps an open bucket. The source takes ownership of the
// bucket and closes it on Close.
func NewBucketSource(bucket *blob.Bucket, prefix, location string) *BucketSource {
	return &BucketSource{
		bucket:   bucket,
		prefix:   normalizePrefix(prefix),
		location: location,
	}
}

// OpenBucketSource opens a bucket by URL, e.g. "mem://" or "file:///data/runs".
func OpenBucketSource(ctx context.Context, bucketURL, prefix string) (*BucketSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBucketSource(bucket, prefix, strings.TrimSuffix(bucketURL, "/")+"/"+normalizePrefix(prefix)), nil
}

// Enumerate lists objects directly under the pattern's directory whose
// names match its base. Nested "directories" are not descended into.
func (s *BucketSource) Enumerate(ctx context.Context, pattern string) ([]string, error) {
	dir, base, err := splitPattern(pattern)
	if err != nil {
		return nil, err
	}

	listPrefix := s.prefix + dir
	iter := s.bucket.List(&blob.ListOptions{
		Prefix:    listPrefix,
		Delimiter: "/",
	})

	var names []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", listPrefix, err)
		}
		if obj.IsDir {
			continue
		}
		if !matchBase(base, path.Base(obj.Key)) {
			continue
		}
		names = append(names, strings.TrimPrefix(obj.Key, s.prefix))
	}
	return names, nil
}

// Open opens an object returned by Enumerate.
func (s *BucketSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.prefix+name, nil)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", s.prefix+name, err)
	}
	return r, nil
}

// Location returns the bucket URI and prefix.
func (s *BucketSource) Location() string {
	return s.location
}

// Close releases the bucket connection.
func (s *BucketSource) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Verify BucketSource implements ReadSource.
var _ ReadSource = (*BucketSource)(nil)
