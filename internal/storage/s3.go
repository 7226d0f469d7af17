package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob" // S3 driver

	"github.com/isbseq/fastq-gather/internal/source"
)

// NewS3Store creates a store writing artifacts to S3-compatible storage.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(ctx context.Context, bucketName, prefix, endpoint, region string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, source.S3URL(bucketName, endpoint, region))
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}

	return NewBucketStore(bucket, fmt.Sprintf("s3://%s", bucketName), prefix), nil
}
