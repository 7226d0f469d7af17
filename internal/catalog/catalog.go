// Package catalog records committed sample artifacts in an optional
// PostgreSQL catalog.
package catalog

import (
	"context"
	"time"
)

type Config struct {
	DSN string
}

// Writer records gather results.
type Writer interface {
	// RecordArtifact upserts the catalog entry of a committed artifact.
	RecordArtifact(ctx context.Context, rec ArtifactRecord) error

	// RecordRun stores the outcome of a whole run.
	RecordRun(ctx context.Context, rec RunRecord) error

	Close() error
}

// ArtifactRecord describes one committed sample artifact.
type ArtifactRecord struct {
	SampleID        string
	Key             string
	URI             string
	Checksum        string
	ByteSize        int64
	RawBytes        int64
	SourceFiles     int
	Rows            []RowRef
	RunID           string
	ProducerVersion string
}

// RowRef identifies a manifest row that fed an artifact.
type RowRef struct {
	Group   string `json:"group"`
	Barcode int    `json:"barcode"`
}

// RunRecord summarizes one run.
type RunRecord struct {
	RunID           string
	Manifest        string
	SourceLocation  string
	SameSample      string
	Rows            int
	Failed          int
	Empty           int
	ProducerVersion string
	ProducerGitSHA  string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.DSN == "" {
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter discards all records.
type NoopWriter struct{}

func (NoopWriter) RecordArtifact(context.Context, ArtifactRecord) error { return nil }
func (NoopWriter) RecordRun(context.Context, RunRecord) error           { return nil }
func (NoopWriter) Close() error                                         { return nil }
