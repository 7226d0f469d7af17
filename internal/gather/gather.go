// Package gather merges the raw read files of every manifest row into one
// gzip artifact per sample.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/isbseq/fastq-gather/internal/catalog"
	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/logging"
	"github.com/isbseq/fastq-gather/internal/manifest"
	"github.com/isbseq/fastq-gather/internal/metrics"
	"github.com/isbseq/fastq-gather/internal/source"
	"github.com/isbseq/fastq-gather/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies artifacts written by this package.
const ProducerName = "fastq-gather"

// Deps are the optional collaborators of a Gatherer.
type Deps struct {
	Metrics *metrics.Metrics // nil disables metrics
	Catalog catalog.Writer   // nil disables the catalog
	Logger  *slog.Logger     // defaults to the "gather" component logger
}

// Gatherer runs the manifest against a source and a store.
type Gatherer struct {
	cfg     config.Config
	table   *manifest.Table
	src     source.ReadSource
	store   storage.SampleStore
	metrics *metrics.Metrics
	catalog catalog.Writer
	log     *slog.Logger
}

// New creates a Gatherer. The table, source and store stay owned by the
// caller.
func New(cfg config.Config, table *manifest.Table, src source.ReadSource, store storage.SampleStore, deps Deps) *Gatherer {
	log := deps.Logger
	if log == nil {
		log = logging.Component("gather")
	}
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.NoopWriter{}
	}
	if cfg.Gather.Workers < 1 {
		cfg.Gather.Workers = 1
	}

	return &Gatherer{
		cfg:     cfg,
		table:   table,
		src:     src,
		store:   store,
		metrics: deps.Metrics,
		catalog: cat,
		log:     log,
	}
}

// Report is the outcome of a run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Rows      int            // rows whose job completed
	Failed    int            // rows whose job failed
	Empty     int            // rows that matched no read files
	Processed []manifest.Row // completed rows in completion order
	Skipped   []string       // samples not written because they had no files
	Artifacts []storage.ArtifactInfo
}

// Run prepares the output location and executes every job. Under the abort
// policy the first job error ends the run; under continue every job runs
// and the errors are returned together. The report is valid in both cases.
func (g *Gatherer) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, runID)
	r := &run{g: g, report: &Report{RunID: runID, StartedAt: time.Now().UTC()}}

	if err := g.store.Ensure(ctx); err != nil {
		return r.report, err
	}
	if err := g.validate(); err != nil {
		return r.report, err
	}

	jobs := buildJobs(g.table, g.cfg.Gather.SameSample)
	r.order = make(map[string]int, len(jobs))
	for _, job := range jobs {
		if _, ok := r.order[job.SampleID]; !ok {
			r.order[job.SampleID] = job.Index
		}
	}

	g.log.Info("starting run",
		"run_id", runID,
		"rows", g.table.Len(),
		"jobs", len(jobs),
		"same_sample", g.cfg.Gather.SameSample,
		"on_error", g.cfg.Gather.OnError,
		"workers", g.cfg.Gather.Workers,
		"source", g.src.Location(),
	)

	var err error
	if g.cfg.Gather.Workers > 1 {
		err = g.runParallel(ctx, r, jobs)
	} else {
		err = g.runSequential(ctx, r, jobs)
	}

	r.report.FinishedAt = time.Now().UTC()
	r.finish()

	if ctx.Err() == nil {
		if serr := g.publishRun(ctx, r.report); serr != nil {
			err = multierror.Append(err, serr).ErrorOrNil()
		}
	}

	g.log.Info("run complete",
		"run_id", runID,
		"rows", r.report.Rows,
		"failed", r.report.Failed,
		"empty", r.report.Empty,
		"artifacts", len(r.report.Artifacts),
		"duration", r.report.FinishedAt.Sub(r.report.StartedAt).String(),
	)
	return r.report, err
}

// runSequential executes jobs one after the other in grouped order.
func (g *Gatherer) runSequential(ctx context.Context, r *run, jobs []Job) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return r.result(err)
		}
		if err := r.do(ctx, job); err != nil && g.aborts(ctx) {
			return err
		}
	}
	return r.result(nil)
}

// aborts reports whether a job error ends the run.
func (g *Gatherer) aborts(ctx context.Context) bool {
	return g.cfg.Gather.OnError != config.OnErrorContinue || ctx.Err() != nil
}

// run holds the mutable state of one Run call.
type run struct {
	g      *Gatherer
	report *Report
	order  map[string]int // sample -> index of its first job

	mu        sync.Mutex
	errs      *multierror.Error
	artifacts map[string]storage.ArtifactInfo
}

// do executes one job and records its outcome. The returned error is the
// job's own error.
func (r *run) do(ctx context.Context, job Job) error {
	res, err := r.g.runJob(ctx, job)
	if err != nil {
		r.fail(ctx, job, err)
		return err
	}

	var info *storage.ArtifactInfo
	if res.Info != nil {
		ai := artifactInfo(res)
		info = &ai
		r.g.metrics.ObserveArtifact(res.Info.Size, res.Duration.Seconds())
		if cerr := r.g.catalog.RecordArtifact(ctx, artifactRecord(ai, res.Info.Key, r.report.RunID)); cerr != nil {
			r.g.metrics.IncCatalogErrors()
			r.g.log.Warn("failed to record artifact in catalog", "sample_id", job.SampleID, "error", cerr)
		}
	}

	for _, rs := range res.Sources {
		r.g.metrics.IncRowsProcessed(rs.Row.Group)
		if len(rs.Files) == 0 {
			r.g.metrics.IncRowsEmpty(rs.Row.Group)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Rows += len(job.Rows)
	r.report.Empty += res.Empty
	r.report.Processed = append(r.report.Processed, job.Rows...)
	if info == nil {
		r.report.Skipped = append(r.report.Skipped, job.SampleID)
		return nil
	}
	if r.artifacts == nil {
		r.artifacts = make(map[string]storage.ArtifactInfo)
	}
	// Under overwrite a later job replaces the earlier artifact.
	r.artifacts[job.SampleID] = *info
	return nil
}

func (r *run) fail(ctx context.Context, job Job, err error) {
	for _, row := range job.Rows {
		r.g.metrics.IncRowsFailed(row.Group)
	}
	r.g.log.Error("job failed", "sample_id", job.SampleID, "error", err)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Failed += len(job.Rows)
	// Cancellation is reported once by the caller, not per job.
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		r.errs = multierror.Append(r.errs, err)
	}
}

// result combines cause with the job errors collected so far.
func (r *run) result(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cause != nil {
		r.errs = multierror.Append(r.errs, cause)
	}
	if r.errs == nil {
		return nil
	}
	if len(r.errs.Errors) == 1 {
		return r.errs.Errors[0]
	}
	return r.errs.ErrorOrNil()
}

// finish orders the artifacts by the position of their sample's first job.
func (r *run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]storage.ArtifactInfo, 0, len(r.artifacts))
	for _, info := range r.artifacts {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.order[out[i].SampleID] < r.order[out[j].SampleID]
	})
	r.report.Artifacts = out
}

// publishRun writes the run summary and records the run in the catalog.
func (g *Gatherer) publishRun(ctx context.Context, report *Report) error {
	if cerr := g.catalog.RecordRun(ctx, runRecord(g, report)); cerr != nil {
		g.metrics.IncCatalogErrors()
		g.log.Warn("failed to record run in catalog", "run_id", report.RunID, "error", cerr)
	}

	if !g.cfg.Output.WriteSummary {
		return nil
	}
	if err := g.store.WriteSummary(ctx, buildSummary(g, report)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
