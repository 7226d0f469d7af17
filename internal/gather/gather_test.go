package gather

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gocloud.dev/blob/memblob"

	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/manifest"
	"github.com/isbseq/fastq-gather/internal/metrics"
	"github.com/isbseq/fastq-gather/internal/source"
	"github.com/isbseq/fastq-gather/internal/storage"
)

// failingSource wraps a ReadSource and fails opens or reads of chosen files.
type failingSource struct {
	source.ReadSource
	failOpen map[string]error
	failRead map[string]error
}

func (f *failingSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err, ok := f.failOpen[name]; ok {
		return nil, err
	}
	if err, ok := f.failRead[name]; ok {
		return io.NopCloser(iotest.ErrReader(err)), nil
	}
	return f.ReadSource.Open(ctx, name)
}

type fixture struct {
	root   string
	outDir string
	cfg    config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		root:   filepath.Join(dir, "runs"),
		outDir: filepath.Join(dir, "raw"),
		cfg:    config.Default(),
	}
	if err := os.MkdirAll(f.root, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	f.cfg.Output.Dir = f.outDir
	return f
}

// addRead writes a raw read file at <group>/barcodeNN/uploaded/<name>.
func (f *fixture) addRead(t *testing.T, group, barcodeDir, name, content string) {
	t.Helper()
	dir := filepath.Join(f.root, group, barcodeDir, "uploaded")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func (f *fixture) source(t *testing.T) source.ReadSource {
	t.Helper()
	src, err := source.NewLocalSource(f.root)
	if err != nil {
		t.Fatalf("NewLocalSource failed: %v", err)
	}
	return src
}

func (f *fixture) gatherer(t *testing.T, table *manifest.Table, src source.ReadSource, deps Deps) *Gatherer {
	t.Helper()
	return New(f.cfg, table, src, storage.NewLocalStore(f.outDir), deps)
}

func (f *fixture) artifact(t *testing.T, sampleID string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.outDir, sampleID+".fastq.gz"))
	if err != nil {
		t.Fatalf("read artifact %s: %v", sampleID, err)
	}
	return gunzip(t, data)
}

func (f *fixture) artifactExists(sampleID string) bool {
	_, err := os.Stat(filepath.Join(f.outDir, sampleID+".fastq.gz"))
	return err == nil
}

func gunzip(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	return string(out)
}

func mustTable(t *testing.T, rows ...manifest.Row) *manifest.Table {
	t.Helper()
	table, err := manifest.NewTable(rows)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.WriteSummary = true
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	f.addRead(t, "run1", "barcode02", "y.fastq", "Y")

	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
	)

	report, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := f.artifact(t, "S1"); got != "X" {
		t.Errorf("S1 = %q, want %q", got, "X")
	}
	if got := f.artifact(t, "S2"); got != "Y" {
		t.Errorf("S2 = %q, want %q", got, "Y")
	}
	if report.Rows != 2 || report.Failed != 0 {
		t.Errorf("report rows=%d failed=%d", report.Rows, report.Failed)
	}
	if len(report.Artifacts) != 2 || report.Artifacts[0].SampleID != "S1" {
		t.Errorf("unexpected artifacts: %+v", report.Artifacts)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, storage.SummaryName)); err != nil {
		t.Errorf("summary not written: %v", err)
	}
}

func TestRunContentFidelity(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode03", "b.fastq", "@read2\n")
	f.addRead(t, "run1", "barcode03", "a.fastq", "@read1\n")
	// None of these match *.fastq.
	f.addRead(t, "run1", "barcode03", "notes.txt", "ignored")
	f.addRead(t, "run1", "barcode03", "c.fastq.gz", "ignored")
	f.addRead(t, "run1", "barcode03", "._a.fastq", "resource fork")
	f.addRead(t, "run1", "barcode03", ".hidden.fastq", "hidden")

	table := mustTable(t, manifest.Row{Barcode: 3, Group: "run1", SampleID: "S3"})

	report, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := f.artifact(t, "S3"); got != "@read1\n@read2\n" {
		t.Errorf("S3 = %q", got)
	}
	art := report.Artifacts[0]
	if art.SourceFiles != 2 || art.RawBytes != 14 {
		t.Errorf("artifact files=%d raw=%d", art.SourceFiles, art.RawBytes)
	}
	if !strings.HasPrefix(art.Checksum, "sha256:") {
		t.Errorf("checksum = %q", art.Checksum)
	}

	// The default output holds sample artifacts only.
	entries, err := os.ReadDir(f.outDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "S3.fastq.gz" {
		t.Errorf("output entries = %v, want only S3.fastq.gz", entries)
	}
}

func TestRunGroupingCompleteness(t *testing.T) {
	f := newFixture(t)
	rows := []manifest.Row{
		{Barcode: 1, Group: "runA", SampleID: "S1"},
		{Barcode: 1, Group: "runB", SampleID: "S2"},
		{Barcode: 2, Group: "runA", SampleID: "S3"},
		{Barcode: 5, Group: "runC", SampleID: "S4"},
		{Barcode: 2, Group: "runB", SampleID: "S5"},
	}
	for _, r := range rows {
		f.addRead(t, r.Group, "barcode0"+string(rune('0'+r.Barcode)), "r.fastq", r.SampleID)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "")

	report, err := f.gatherer(t, mustTable(t, rows...), f.source(t), Deps{Metrics: m}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Grouped iteration: runA rows, then runB rows, then runC.
	want := []manifest.Row{rows[0], rows[2], rows[1], rows[4], rows[3]}
	if !reflect.DeepEqual(report.Processed, want) {
		t.Errorf("processed order = %v, want %v", report.Processed, want)
	}
	if report.Rows != len(rows) {
		t.Errorf("Rows = %d, want %d", report.Rows, len(rows))
	}
	for _, r := range rows {
		if got := f.artifact(t, r.SampleID); got != r.SampleID {
			t.Errorf("%s = %q", r.SampleID, got)
		}
	}

	total := testutil.ToFloat64(m.RowsProcessed.WithLabelValues("runA")) +
		testutil.ToFloat64(m.RowsProcessed.WithLabelValues("runB")) +
		testutil.ToFloat64(m.RowsProcessed.WithLabelValues("runC"))
	if total != float64(len(rows)) {
		t.Errorf("rows_processed total = %v", total)
	}
	if got := testutil.ToFloat64(m.ArtifactsWritten); got != float64(len(rows)) {
		t.Errorf("artifacts_written = %v", got)
	}
}

func TestRunEmptySourceSet(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode02", "y.fastq", "Y")
	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
	)

	report, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := f.artifact(t, "S1"); got != "" {
		t.Errorf("S1 = %q, want empty", got)
	}
	if got := f.artifact(t, "S2"); got != "Y" {
		t.Errorf("S2 = %q", got)
	}
	if report.Empty != 1 || report.Rows != 2 {
		t.Errorf("report empty=%d rows=%d", report.Empty, report.Rows)
	}
}

func TestRunSkipEmpty(t *testing.T) {
	f := newFixture(t)
	f.cfg.Gather.SkipEmpty = true
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})

	report, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.artifactExists("S1") {
		t.Error("S1 should not be written when skip_empty is set")
	}
	if !reflect.DeepEqual(report.Skipped, []string{"S1"}) {
		t.Errorf("Skipped = %v", report.Skipped)
	}
	if report.Empty != 1 {
		t.Errorf("Empty = %d", report.Empty)
	}
}

func TestRunDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode01", "b.fastq", "@r2\nACGT\n+\nIIII\n")
	f.addRead(t, "run1", "barcode01", "a.fastq", "@r1\nTTGA\n+\nIIII\n")
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})
	path := filepath.Join(f.outDir, "S1.fastq.gz")

	first, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	firstBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	second, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	secondBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("re-running produced different artifact bytes")
	}
	if first.Artifacts[0].Checksum != second.Artifacts[0].Checksum {
		t.Errorf("checksums differ: %s vs %s", first.Artifacts[0].Checksum, second.Artifacts[0].Checksum)
	}
}

func TestRunSameSamplePolicies(t *testing.T) {
	rows := []manifest.Row{
		{Barcode: 1, Group: "run1", SampleID: "S1"},
		{Barcode: 2, Group: "run1", SampleID: "S2"},
		{Barcode: 1, Group: "run2", SampleID: "S1"},
	}

	tests := []struct {
		policy string
		want   string
	}{
		{config.SameSampleOverwrite, "B"},
		{config.SameSampleMerge, "AB"},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.Gather.SameSample = tt.policy
			f.addRead(t, "run1", "barcode01", "a.fastq", "A")
			f.addRead(t, "run1", "barcode02", "c.fastq", "C")
			f.addRead(t, "run2", "barcode01", "b.fastq", "B")

			report, err := f.gatherer(t, mustTable(t, rows...), f.source(t), Deps{}).Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := f.artifact(t, "S1"); got != tt.want {
				t.Errorf("S1 = %q, want %q", got, tt.want)
			}
			if got := f.artifact(t, "S2"); got != "C" {
				t.Errorf("S2 = %q", got)
			}
			if report.Rows != 3 {
				t.Errorf("Rows = %d", report.Rows)
			}
			if len(report.Artifacts) != 2 {
				t.Errorf("artifacts = %d, want 2", len(report.Artifacts))
			}
		})
	}
}

func TestRunAbortOnUnreadableFile(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	f.addRead(t, "run1", "barcode02", "a.fastq", "A")
	f.addRead(t, "run1", "barcode02", "b.fastq", "B")
	f.addRead(t, "run1", "barcode03", "z.fastq", "Z")

	// A previous artifact for the failing sample must survive.
	if err := os.MkdirAll(f.outDir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	previous := filepath.Join(f.outDir, "S2.fastq.gz")
	if err := os.WriteFile(previous, []byte("previous"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	readErr := errors.New("input/output error")
	src := &failingSource{
		ReadSource: f.source(t),
		failRead:   map[string]error{"run1/barcode02/uploaded/b.fastq": readErr},
	}
	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
		manifest.Row{Barcode: 3, Group: "run1", SampleID: "S3"},
	)

	report, err := f.gatherer(t, table, src, Deps{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var sre *SourceReadError
	if !errors.As(err, &sre) {
		t.Fatalf("expected *SourceReadError, got %T: %v", err, err)
	}
	if sre.Group != "run1" || sre.Barcode != 2 || sre.SampleID != "S2" || sre.Path != "run1/barcode02/uploaded/b.fastq" {
		t.Errorf("unexpected error fields: %+v", sre)
	}
	if !errors.Is(err, readErr) {
		t.Error("error should wrap the read failure")
	}

	data, rerr := os.ReadFile(previous)
	if rerr != nil || string(data) != "previous" {
		t.Errorf("previous artifact changed: %q %v", data, rerr)
	}
	if f.artifactExists("S3") {
		t.Error("S3 should not be written after abort")
	}
	if got := f.artifact(t, "S1"); got != "X" {
		t.Errorf("S1 = %q", got)
	}
	if report.Rows != 1 || report.Failed != 1 {
		t.Errorf("report rows=%d failed=%d", report.Rows, report.Failed)
	}

	entries, _ := os.ReadDir(f.outDir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestRunContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.cfg.Gather.OnError = config.OnErrorContinue
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	f.addRead(t, "run1", "barcode02", "y.fastq", "Y")
	f.addRead(t, "run2", "barcode01", "z.fastq", "Z")

	src := &failingSource{
		ReadSource: f.source(t),
		failOpen: map[string]error{
			"run1/barcode01/uploaded/x.fastq": os.ErrPermission,
			"run2/barcode01/uploaded/z.fastq": os.ErrPermission,
		},
	}
	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
		manifest.Row{Barcode: 1, Group: "run2", SampleID: "S3"},
	)

	report, err := f.gatherer(t, table, src, Deps{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("error should wrap the open failure: %v", err)
	}
	if !strings.Contains(err.Error(), "S1") || !strings.Contains(err.Error(), "S3") {
		t.Errorf("error should name both failed samples: %v", err)
	}

	if got := f.artifact(t, "S2"); got != "Y" {
		t.Errorf("S2 = %q", got)
	}
	if f.artifactExists("S1") || f.artifactExists("S3") {
		t.Error("failed samples should not be written")
	}
	if report.Rows != 1 || report.Failed != 2 {
		t.Errorf("report rows=%d failed=%d", report.Rows, report.Failed)
	}
}

func TestRunOutputLocationIsFile(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.outDir, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})

	_, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	var dce *storage.DirectoryCreationError
	if !errors.As(err, &dce) {
		t.Fatalf("expected *storage.DirectoryCreationError, got %v", err)
	}
}

func TestRunInvalidSampleID(t *testing.T) {
	f := newFixture(t)
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "../escape"})

	_, err := f.gatherer(t, table, f.source(t), Deps{}).Run(context.Background())
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.WriteSummary = true
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gatherer(t, table, f.source(t), Deps{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.artifactExists("S1") {
		t.Error("no artifact should be written after cancellation")
	}
	if _, err := os.Stat(filepath.Join(f.outDir, storage.SummaryName)); err == nil {
		t.Error("summary should not be written after cancellation")
	}
}

func TestRunParallel(t *testing.T) {
	f := newFixture(t)
	f.cfg.Gather.Workers = 4
	f.cfg.Gather.SameSample = config.SameSampleMerge

	var rows []manifest.Row
	for _, group := range []string{"run1", "run2", "run3"} {
		for b := 1; b <= 6; b++ {
			sample := "S" + string(rune('0'+b))
			rows = append(rows, manifest.Row{Barcode: b, Group: group, SampleID: sample})
			f.addRead(t, group, "barcode0"+string(rune('0'+b)), "r.fastq", group+"|")
		}
	}

	report, err := f.gatherer(t, mustTable(t, rows...), f.source(t), Deps{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Rows != len(rows) {
		t.Errorf("Rows = %d, want %d", report.Rows, len(rows))
	}
	for b := 1; b <= 6; b++ {
		sample := "S" + string(rune('0'+b))
		if got := f.artifact(t, sample); got != "run1|run2|run3|" {
			t.Errorf("%s = %q", sample, got)
		}
	}
	for i, art := range report.Artifacts {
		if want := "S" + string(rune('1'+i)); art.SampleID != want {
			t.Errorf("artifact %d = %s, want %s", i, art.SampleID, want)
		}
	}
}

func TestRunParallelAbort(t *testing.T) {
	f := newFixture(t)
	f.cfg.Gather.Workers = 2
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	f.addRead(t, "run1", "barcode02", "y.fastq", "Y")

	src := &failingSource{
		ReadSource: f.source(t),
		failOpen:   map[string]error{"run1/barcode02/uploaded/y.fastq": os.ErrPermission},
	}
	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
	)

	_, err := f.gatherer(t, table, src, Deps{}).Run(context.Background())
	var sre *SourceReadError
	if !errors.As(err, &sre) || sre.SampleID != "S2" {
		t.Fatalf("expected SourceReadError for S2, got %v", err)
	}
	if f.artifactExists("S2") {
		t.Error("S2 should not be written")
	}
}

func TestRunBucketBackends(t *testing.T) {
	ctx := context.Background()
	in := memblob.OpenBucket(nil)
	out := memblob.OpenBucket(nil)

	for key, body := range map[string]string{
		"reads/run1/barcode01/uploaded/a.fastq": "@a\n",
		"reads/run1/barcode01/uploaded/b.fastq": "@b\n",
		"reads/run1/barcode01/other.fastq":      "skip",
	} {
		if err := in.WriteAll(ctx, key, []byte(body), nil); err != nil {
			t.Fatalf("WriteAll failed: %v", err)
		}
	}

	src := source.NewBucketSource(in, "reads", "mem://in/reads")
	store := storage.NewBucketStore(out, "mem://out", "raw")
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})

	cfg := config.Default()
	cfg.Output.WriteSummary = true
	report, err := New(cfg, table, src, store, Deps{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := out.ReadAll(ctx, "raw/S1.fastq.gz")
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got := gunzip(t, data); got != "@a\n@b\n" {
		t.Errorf("S1 = %q", got)
	}
	if report.Artifacts[0].URI != "mem://out/raw/S1.fastq.gz" {
		t.Errorf("URI = %q", report.Artifacts[0].URI)
	}
	if ok, _ := out.Exists(ctx, "raw/"+storage.SummaryName); !ok {
		t.Error("summary not written")
	}
}

func TestPlan(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode07", "b.fastq", "B")
	f.addRead(t, "run1", "barcode07", "a.fastq", "A")
	table := mustTable(t,
		manifest.Row{Barcode: 7, Group: "run1", SampleID: "S7"},
		manifest.Row{Barcode: 123, Group: "run1", SampleID: "S123"},
	)

	plans, err := f.gatherer(t, table, f.source(t), Deps{}).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(plans))
	}

	first := plans[0].Sources[0]
	if first.Pattern != "run1/barcode07/uploaded/*.fastq" {
		t.Errorf("pattern = %q", first.Pattern)
	}
	want := []string{"run1/barcode07/uploaded/a.fastq", "run1/barcode07/uploaded/b.fastq"}
	if !reflect.DeepEqual(first.Files, want) {
		t.Errorf("files = %v, want %v", first.Files, want)
	}
	if plans[1].Sources[0].Pattern != "run1/barcode123/uploaded/*.fastq" || plans[1].FileCount() != 0 {
		t.Errorf("unexpected second plan: %+v", plans[1])
	}
	if plans[0].Key() != "S7.fastq.gz" {
		t.Errorf("Key = %q", plans[0].Key())
	}
	if plans[0].Replaces || plans[1].Replaces {
		t.Error("no artifact is published yet")
	}

	if _, err := os.Stat(f.outDir); !os.IsNotExist(err) {
		t.Error("Plan must not create the output location")
	}
}

func TestPlanMarksPublishedArtifacts(t *testing.T) {
	f := newFixture(t)
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	table := mustTable(t,
		manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"},
		manifest.Row{Barcode: 2, Group: "run1", SampleID: "S2"},
	)
	if err := os.MkdirAll(f.outDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.outDir, "S2.fastq.gz"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	plans, err := f.gatherer(t, table, f.source(t), Deps{}).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plans[0].Replaces {
		t.Error("S1 has no published artifact")
	}
	if !plans[1].Replaces {
		t.Error("S2 should replace the existing artifact")
	}
	if data, _ := os.ReadFile(filepath.Join(f.outDir, "S2.fastq.gz")); string(data) != "old" {
		t.Error("Plan must not modify existing artifacts")
	}
}

func TestRunLogsCarryRunID(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.WriteSummary = false
	f.addRead(t, "run1", "barcode01", "x.fastq", "X")
	table := mustTable(t, manifest.Row{Barcode: 1, Group: "run1", SampleID: "S1"})

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	report, err := f.gatherer(t, table, f.source(t), Deps{Logger: logger}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if entry["msg"] != "artifact written" {
			continue
		}
		found = true
		if entry["correlation_id"] != report.RunID {
			t.Errorf("correlation_id = %v, want run ID %s", entry["correlation_id"], report.RunID)
		}
	}
	if !found {
		t.Error("no artifact log line")
	}
}
