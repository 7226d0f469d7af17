package gather

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/logging"
)

// lane is the ordered list of jobs writing one sample. Jobs of a lane run
// one after another so the last one still wins under overwrite.
type lane struct {
	sampleID string
	jobs     []Job
}

// buildLanes partitions jobs by sample, keeping lanes in the order of their
// first job.
func buildLanes(jobs []Job) []lane {
	var lanes []lane
	index := make(map[string]int)
	for _, job := range jobs {
		i, ok := index[job.SampleID]
		if !ok {
			i = len(lanes)
			index[job.SampleID] = i
			lanes = append(lanes, lane{sampleID: job.SampleID})
		}
		lanes[i].jobs = append(lanes[i].jobs, job)
	}
	return lanes
}

// runParallel runs lanes on a bounded worker pool. Different samples never
// share an artifact, so lanes are independent. Under the abort policy the
// first job error cancels the remaining lanes and their in-flight
// artifacts are aborted.
func (g *Gatherer) runParallel(ctx context.Context, r *run, jobs []Job) error {
	lanes := buildLanes(jobs)
	g.log.Info("starting parallel mode", "lanes", len(lanes), "workers", g.cfg.Gather.Workers)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Gather.Workers)

	for i, ln := range lanes {
		i, ln := i, ln
		eg.Go(func() error {
			log := logging.LaneLogger(g.log, i, ln.sampleID)
			for _, job := range ln.jobs {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if err := r.do(egCtx, job); err != nil && g.aborts(egCtx) {
					log.Debug("lane stopped")
					return err
				}
			}
			return nil
		})
	}

	first := eg.Wait()
	if ctx.Err() != nil {
		return r.result(ctx.Err())
	}
	if first != nil && g.cfg.Gather.OnError != config.OnErrorContinue {
		return first
	}
	return r.result(nil)
}
