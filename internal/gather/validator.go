package gather

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/manifest"
)

// ValidationResult contains the outcome of plan validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// ValidatePlan checks a manifest before any artifact is written:
// - every sample ID is usable as a single file name
// - under the overwrite policy, samples listed on several rows are
//   reported because only the last row survives
// - with skip_empty also set, such samples are reported because a later
//   row without files leaves the earlier row's artifact in place
func ValidatePlan(table *manifest.Table, opts config.GatherConfig) ValidationResult {
	result := ValidationResult{Passed: true}

	rowsBySample := make(map[string][]manifest.Row)
	for _, group := range table.Groups() {
		for _, row := range group.Rows {
			rowsBySample[row.SampleID] = append(rowsBySample[row.SampleID], row)
		}
	}

	for _, id := range table.SampleIDs() {
		if problem := sampleIDProblem(id); problem != "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("sample %q: %s", id, problem))
			result.Passed = false
		}

		rows := rowsBySample[id]
		if opts.SameSample == config.SameSampleOverwrite && len(rows) > 1 {
			last := rows[len(rows)-1]
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("sample %s appears on %d rows; only %s/barcode %d will be kept",
					id, len(rows), last.Group, last.Barcode))
			if opts.SkipEmpty {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("sample %s: with skip_empty, a later row without read files keeps the previous row's artifact", id))
			}
		}
	}

	return result
}

func sampleIDProblem(id string) string {
	switch {
	case id == "." || id == "..":
		return "reserved path name"
	case strings.ContainsAny(id, `/\`):
		return "contains a path separator"
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return "contains a control character"
	}
	return ""
}

// validate runs ValidatePlan, logs warnings and turns errors into
// ErrInvalidPlan.
func (g *Gatherer) validate() error {
	result := ValidatePlan(g.table, g.cfg.Gather)
	for _, w := range result.Warnings {
		g.log.Warn("plan warning", "detail", w)
	}
	if !result.Passed {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(result.Errors, "; "))
	}
	return nil
}
