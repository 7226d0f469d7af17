// Package layout maps manifest rows to the directory layout written by the
// sequencing instruments and to output artifact names.
package layout

import (
	"fmt"
	"path"

	"github.com/isbseq/fastq-gather/internal/manifest"
)

const (
	// UploadDir is the per-barcode directory holding finished read files.
	UploadDir = "uploaded"

	// ReadPattern matches raw read files directly inside UploadDir.
	ReadPattern = "*.fastq"

	// ArtifactExt is appended to the sample ID to name its output.
	ArtifactExt = ".fastq.gz"
)

// BarcodeDir renders a barcode as its directory name. The number is padded
// to at least two digits and never truncated: 7 -> barcode07, 123 -> barcode123.
func BarcodeDir(barcode int) string {
	return fmt.Sprintf("barcode%02d", barcode)
}

// Resolve returns the slash-separated search pattern for a row's read files:
// <group>/barcode<NN>/uploaded/*.fastq.
func Resolve(row manifest.Row) string {
	return path.Join(row.Group, BarcodeDir(row.Barcode), UploadDir, ReadPattern)
}

// ArtifactName returns the output file name for a sample.
func ArtifactName(sampleID string) string {
	return sampleID + ArtifactExt
}
