package gather

import (
	"context"
	"sort"

	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/layout"
	"github.com/isbseq/fastq-gather/internal/manifest"
	"github.com/isbseq/fastq-gather/internal/storage"
)

// Job is one artifact write. Rows are consumed in order into a single
// gzip stream.
type Job struct {
	Index    int
	SampleID string
	Rows     []manifest.Row
}

// Key returns the artifact key the job writes.
func (j Job) Key() string {
	return storage.ArtifactKey(j.SampleID)
}

// RowSources is the resolved source file set of one row.
type RowSources struct {
	Row     manifest.Row
	Pattern string
	Files   []string
}

// JobPlan is a job together with the files it would read.
type JobPlan struct {
	Job
	Sources []RowSources
	// Replaces is set when the store already holds an artifact for the
	// sample. It stays false when the Gatherer has no store.
	Replaces bool
}

// FileCount returns the number of source files across all rows.
func (p JobPlan) FileCount() int {
	n := 0
	for _, rs := range p.Sources {
		n += len(rs.Files)
	}
	return n
}

// buildJobs turns the grouped manifest into jobs. Under the overwrite
// policy every row is its own job; under merge the rows of a sample are
// collected into the job placed at the sample's first row.
func buildJobs(table *manifest.Table, sameSample string) []Job {
	var jobs []Job
	bySample := make(map[string]int)

	for _, group := range table.Groups() {
		for _, row := range group.Rows {
			if sameSample == config.SameSampleMerge {
				if i, ok := bySample[row.SampleID]; ok {
					jobs[i].Rows = append(jobs[i].Rows, row)
					continue
				}
				bySample[row.SampleID] = len(jobs)
			}
			jobs = append(jobs, Job{
				Index:    len(jobs),
				SampleID: row.SampleID,
				Rows:     []manifest.Row{row},
			})
		}
	}
	return jobs
}

// resolve enumerates the source files of every row in job. The file set is
// computed fresh on each call.
func (g *Gatherer) resolve(ctx context.Context, job Job) ([]RowSources, error) {
	sources := make([]RowSources, 0, len(job.Rows))
	for _, row := range job.Rows {
		pattern := layout.Resolve(row)
		files, err := g.src.Enumerate(ctx, pattern)
		if err != nil {
			return nil, &SourceReadError{
				Group:    row.Group,
				Barcode:  row.Barcode,
				SampleID: row.SampleID,
				Path:     pattern,
				Err:      err,
			}
		}
		if g.cfg.Gather.SortSources {
			sort.Strings(files)
		}
		sources = append(sources, RowSources{Row: row, Pattern: pattern, Files: files})
	}
	return sources, nil
}

// Plan resolves every job without writing anything.
func (g *Gatherer) Plan(ctx context.Context) ([]JobPlan, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	jobs := buildJobs(g.table, g.cfg.Gather.SameSample)
	plans := make([]JobPlan, 0, len(jobs))
	existing := make(map[string]bool)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sources, err := g.resolve(ctx, job)
		if err != nil {
			return nil, err
		}
		replaces, err := g.published(ctx, job, existing)
		if err != nil {
			return nil, err
		}
		plans = append(plans, JobPlan{Job: job, Sources: sources, Replaces: replaces})
	}
	return plans, nil
}

// published reports whether the store already holds the job's artifact.
// Lookups are cached per sample in seen.
func (g *Gatherer) published(ctx context.Context, job Job, seen map[string]bool) (bool, error) {
	if g.store == nil {
		return false, nil
	}
	if ok, cached := seen[job.SampleID]; cached {
		return ok, nil
	}
	ok, err := g.store.Exists(ctx, job.SampleID)
	if err != nil {
		row := job.Rows[0]
		return false, &OutputWriteError{
			Group:    row.Group,
			Barcode:  row.Barcode,
			SampleID: job.SampleID,
			Key:      job.Key(),
			Err:      err,
		}
	}
	seen[job.SampleID] = ok
	return ok, nil
}
