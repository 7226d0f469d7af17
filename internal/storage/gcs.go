package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore creates a store writing artifacts to Google Cloud Storage.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	return NewBucketStore(bucket, fmt.Sprintf("gs://%s", bucketName), prefix), nil
}
