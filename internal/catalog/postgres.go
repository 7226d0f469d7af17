package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects to the catalog and creates its tables if they
// do not exist.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[catalog] connected to PostgreSQL catalog")
	return &PostgresWriter{pool: pool}, nil
}

// RecordArtifact upserts the entry for rec.SampleID. The latest commit for
// a sample wins, matching what the output location holds.
func (w *PostgresWriter) RecordArtifact(ctx context.Context, rec ArtifactRecord) error {
	rows, err := encodeRows(rec.Rows)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO gather_artifacts (
			sample_id, storage_key, storage_uri, checksum, byte_size,
			raw_bytes, source_files, source_rows, run_id, producer_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
		ON CONFLICT (sample_id)
		DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			storage_uri = EXCLUDED.storage_uri,
			checksum = EXCLUDED.checksum,
			byte_size = EXCLUDED.byte_size,
			raw_bytes = EXCLUDED.raw_bytes,
			source_files = EXCLUDED.source_files,
			source_rows = EXCLUDED.source_rows,
			run_id = EXCLUDED.run_id,
			producer_version = EXCLUDED.producer_version,
			updated_at = NOW()
	`

	_, err = w.pool.Exec(ctx, query,
		rec.SampleID,
		rec.Key,
		rec.URI,
		rec.Checksum,
		rec.ByteSize,
		rec.RawBytes,
		rec.SourceFiles,
		rows,
		rec.RunID,
		rec.ProducerVersion,
	)
	if err != nil {
		return fmt.Errorf("record artifact %s: %w", rec.SampleID, err)
	}
	return nil
}

// RecordRun inserts the run outcome.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO gather_runs (
			run_id, manifest, source_location, same_sample, rows_total,
			rows_failed, rows_empty, producer_version, producer_git_sha,
			started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO NOTHING
	`

	var gitSHA *string
	if rec.ProducerGitSHA != "" {
		gitSHA = &rec.ProducerGitSHA
	}

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Manifest,
		rec.SourceLocation,
		rec.SameSample,
		rec.Rows,
		rec.Failed,
		rec.Empty,
		rec.ProducerVersion,
		gitSHA,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}

	log.Printf("[catalog] recorded run %s (%d rows, %d failed)", rec.RunID, rec.Rows, rec.Failed)
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func encodeRows(rows []RowRef) (string, error) {
	if rows == nil {
		rows = []RowRef{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode source rows: %w", err)
	}
	return string(b), nil
}

var _ Writer = (*PostgresWriter)(nil)
