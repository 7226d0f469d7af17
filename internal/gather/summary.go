package gather

import (
	"time"

	"github.com/isbseq/fastq-gather/internal/catalog"
	"github.com/isbseq/fastq-gather/internal/layout"
	"github.com/isbseq/fastq-gather/internal/storage"
)

// artifactInfo creates the summary entry of a committed job.
func artifactInfo(res *jobResult) storage.ArtifactInfo {
	rows := make([]storage.RowRef, 0, len(res.Job.Rows))
	for _, row := range res.Job.Rows {
		rows = append(rows, storage.RowRef{Group: row.Group, Barcode: row.Barcode})
	}

	return storage.ArtifactInfo{
		SampleID:    res.Job.SampleID,
		File:        layout.ArtifactName(res.Job.SampleID),
		URI:         res.Info.URI,
		Checksum:    res.Info.Checksum,
		ByteSize:    res.Info.Size,
		RawBytes:    res.RawBytes,
		SourceFiles: res.Files,
		Rows:        rows,
	}
}

// artifactRecord creates the catalog entry of a committed artifact.
func artifactRecord(info storage.ArtifactInfo, key, runID string) catalog.ArtifactRecord {
	rows := make([]catalog.RowRef, 0, len(info.Rows))
	for _, r := range info.Rows {
		rows = append(rows, catalog.RowRef{Group: r.Group, Barcode: r.Barcode})
	}

	return catalog.ArtifactRecord{
		SampleID:        info.SampleID,
		Key:             key,
		URI:             info.URI,
		Checksum:        info.Checksum,
		ByteSize:        info.ByteSize,
		RawBytes:        info.RawBytes,
		SourceFiles:     info.SourceFiles,
		Rows:            rows,
		RunID:           runID,
		ProducerVersion: ProducerName + "@" + Version,
	}
}

// runRecord creates the catalog entry of a finished run.
func runRecord(g *Gatherer, report *Report) catalog.RunRecord {
	return catalog.RunRecord{
		RunID:           report.RunID,
		Manifest:        g.cfg.Manifest.Path,
		SourceLocation:  g.src.Location(),
		SameSample:      g.cfg.Gather.SameSample,
		Rows:            g.table.Len(),
		Failed:          report.Failed,
		Empty:           report.Empty,
		ProducerVersion: ProducerName + "@" + Version,
		ProducerGitSHA:  GitSHA,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
	}
}

// buildSummary creates the run summary written next to the artifacts.
func buildSummary(g *Gatherer, report *Report) *storage.Summary {
	artifacts := report.Artifacts
	if artifacts == nil {
		artifacts = []storage.ArtifactInfo{}
	}

	return &storage.Summary{
		Run: storage.RunInfo{
			ID:         report.RunID,
			Manifest:   g.cfg.Manifest.Path,
			Source:     g.src.Location(),
			SameSample: g.cfg.Gather.SameSample,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Rows:       g.table.Len(),
			Failed:     report.Failed,
			Empty:      report.Empty,
		},
		Artifacts: artifacts,
		Producer: storage.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: time.Now().UTC(),
	}
}
