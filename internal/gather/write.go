package gather

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/isbseq/fastq-gather/internal/logging"
	"github.com/isbseq/fastq-gather/internal/manifest"
	"github.com/isbseq/fastq-gather/internal/storage"
)

// jobResult describes a finished job.
type jobResult struct {
	Job      Job
	Sources  []RowSources
	Info     *storage.ObjectInfo // nil when nothing was written
	RawBytes int64
	Files    int
	Empty    int // rows that matched no files
	Duration time.Duration
}

// runJob resolves the sources of job and streams them into one gzip
// artifact. The artifact is published only after every file was copied and
// the gzip stream closed; on any error it is aborted.
func (g *Gatherer) runJob(ctx context.Context, job Job) (*jobResult, error) {
	start := time.Now()
	log := logging.SampleLogger(g.log, logging.CorrelationID(ctx), job.SampleID)

	sources, err := g.resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	res := &jobResult{Job: job, Sources: sources}
	for _, rs := range sources {
		if len(rs.Files) == 0 {
			res.Empty++
			logging.RowLogger(log, rs.Row.Group, rs.Row.Barcode, rs.Row.SampleID).
				Warn("no read files matched", "pattern", rs.Pattern)
		}
		res.Files += len(rs.Files)
	}

	if res.Files == 0 && g.cfg.Gather.SkipEmpty {
		log.Info("skipping empty artifact")
		res.Duration = time.Since(start)
		return res, nil
	}

	last := job.Rows[len(job.Rows)-1]
	art, err := g.store.Create(ctx, job.SampleID)
	if err != nil {
		return nil, g.outputError(last, job.Key(), err)
	}

	g.metrics.AddInFlight(1)
	defer g.metrics.AddInFlight(-1)

	info, raw, err := g.writeArtifact(ctx, art, sources)
	if err != nil {
		if abortErr := art.Abort(); abortErr != nil {
			log.Warn("abort artifact failed", "key", art.Key(), "error", abortErr)
		}
		return nil, err
	}

	res.Info = info
	res.RawBytes = raw
	res.Duration = time.Since(start)

	log.Info("artifact written",
		"key", info.Key,
		"rows", len(job.Rows),
		"files", res.Files,
		"raw_bytes", raw,
		"bytes", info.Size,
		"duration", res.Duration.String(),
	)
	return res, nil
}

// writeArtifact compresses every file of sources into art and commits it.
func (g *Gatherer) writeArtifact(ctx context.Context, art storage.Artifact, sources []RowSources) (*storage.ObjectInfo, int64, error) {
	// The zero header carries no name and no mtime, so identical inputs
	// compress to identical bytes.
	zw, err := gzip.NewWriterLevel(art, g.cfg.Gather.CompressionLevel)
	if err != nil {
		last := sources[len(sources)-1].Row
		return nil, 0, g.outputError(last, art.Key(), err)
	}

	var raw int64
	for _, rs := range sources {
		for _, name := range rs.Files {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			n, err := g.copyFile(ctx, zw, rs.Row, name, art.Key())
			if err != nil {
				return nil, 0, err
			}
			raw += n
		}
	}

	last := sources[len(sources)-1].Row
	if err := zw.Close(); err != nil {
		return nil, 0, g.outputError(last, art.Key(), fmt.Errorf("close gzip stream: %w", err))
	}
	info, err := art.Commit()
	if err != nil {
		return nil, 0, g.outputError(last, art.Key(), err)
	}
	return info, raw, nil
}

// copyFile streams one source file into w. The source is closed before
// returning whether or not the copy succeeded.
func (g *Gatherer) copyFile(ctx context.Context, w io.Writer, row manifest.Row, name, key string) (int64, error) {
	rc, err := g.src.Open(ctx, name)
	if err != nil {
		g.metrics.IncSourceErrors(row.Group)
		return 0, g.sourceError(row, name, err)
	}
	defer rc.Close()

	r := &readTracker{r: rc}
	n, err := io.Copy(w, r)
	if err != nil {
		if r.err != nil {
			g.metrics.IncSourceErrors(row.Group)
			return n, g.sourceError(row, name, err)
		}
		return n, g.outputError(row, key, err)
	}

	g.metrics.AddSourceFile(row.Group, n)
	return n, nil
}

func (g *Gatherer) sourceError(row manifest.Row, name string, err error) error {
	return &SourceReadError{
		Group:    row.Group,
		Barcode:  row.Barcode,
		SampleID: row.SampleID,
		Path:     name,
		Err:      err,
	}
}

func (g *Gatherer) outputError(row manifest.Row, key string, err error) error {
	g.metrics.IncStorageErrors(row.Group)
	return &OutputWriteError{
		Group:    row.Group,
		Barcode:  row.Barcode,
		SampleID: row.SampleID,
		Key:      key,
		Err:      err,
	}
}

// readTracker remembers the last read error so a failed copy can be blamed
// on the right side.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
