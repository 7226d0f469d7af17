package source

import (
	"context"
	"fmt"
	"log"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSSource creates a source reading run directories from Google Cloud
// Storage. Uses Application Default Credentials (ADC) for authentication.
func NewGCSSource(ctx context.Context, bucketName, prefix string) (*BucketSource, error) {
	// URL format: gs://bucket-name
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	log.Printf("[source:gcs] reading runs from gs://%s/%s", bucketName, normalizePrefix(prefix))
	return NewBucketSource(bucket, prefix, fmt.Sprintf("gs://%s/%s", bucketName, normalizePrefix(prefix))), nil
}
