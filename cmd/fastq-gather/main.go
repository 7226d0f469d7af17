package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/isbseq/fastq-gather/internal/catalog"
	"github.com/isbseq/fastq-gather/internal/config"
	"github.com/isbseq/fastq-gather/internal/gather"
	"github.com/isbseq/fastq-gather/internal/logging"
	"github.com/isbseq/fastq-gather/internal/manifest"
	"github.com/isbseq/fastq-gather/internal/metrics"
	"github.com/isbseq/fastq-gather/internal/source"
	"github.com/isbseq/fastq-gather/internal/storage"
)

var configPath string

const runLong = `Gather every manifest row into <output>/<sample>.fastq.gz.

With output.write_summary (GATHER_WRITE_SUMMARY=true) the run summary
_gather_summary.json is also written to the output location.`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	root := &cobra.Command{
		Use:           "fastq-gather",
		Short:         "Merge per-run raw read files into one gzip FASTQ per sample",
		Version:       fmt.Sprintf("%s (%s)", gather.Version, gather.GitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCommand,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATHER_CONFIG"), "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Gather every manifest row into its sample artifact (default)",
		Long:  runLong,
		RunE:  runCommand,
	})
	root.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "Print the artifacts and read files a run would use, without writing",
		RunE:  planCommand,
	})

	if err := root.Execute(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

// setup loads configuration and opens the manifest and the read source.
// The caller closes the returned source.
func setup(ctx context.Context) (config.Config, *manifest.Table, source.ReadSource, error) {
	cfg := config.MustLoad(configPath)

	logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})

	table, err := manifest.LoadFile(cfg.Manifest.Path, manifest.Options{Comma: cfg.Manifest.Comma()})
	if err != nil {
		return cfg, nil, nil, err
	}
	log.Printf("[main] loaded %d rows in %d groups from %s", table.Len(), len(table.Groups()), cfg.Manifest.Path)

	src, err := source.NewReadSource(ctx, source.SourceConfig{
		Backend:   cfg.Source.Backend,
		LocalRoot: cfg.Source.Root,
		Bucket:    cfg.Source.Bucket,
		Prefix:    cfg.Source.Prefix,
		Endpoint:  cfg.Source.Endpoint,
		Region:    cfg.Source.Region,
		URL:       cfg.Source.URL,
	})
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("create source: %w", err)
	}
	return cfg, table, src, nil
}

func runCommand(cmd *cobra.Command, _ []string) error {
	log.Printf("[main] fastq-gather %s (%s)", gather.Version, gather.GitSHA)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, table, src, err := setup(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	store, err := storage.NewSampleStore(ctx, storageConfig(cfg.Output))
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	cat, err := catalog.NewWriter(ctx, catalog.Config{DSN: cfg.Catalog.DSN})
	if err != nil {
		// The catalog is optional; artifacts are still written without it.
		log.Printf("[main] catalog unavailable: %v", err)
		cat = catalog.NoopWriter{}
	}
	defer cat.Close()

	m := metrics.New(prometheus.DefaultRegisterer, "")
	if cfg.Metrics.Addr != "" {
		go func() {
			log.Printf("[main] metrics listening on %s", cfg.Metrics.Addr)
			if err := metrics.StartServer(cfg.Metrics.Addr, prometheus.DefaultGatherer); err != nil {
				log.Printf("[main] metrics server stopped: %v", err)
			}
		}()
	}

	g := gather.New(cfg, table, src, store, gather.Deps{Metrics: m, Catalog: cat})
	report, err := g.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] interrupted after %d rows", report.Rows)
			return err
		}
		return fmt.Errorf("gather failed after %d rows (%d failed): %w", report.Rows, report.Failed, err)
	}

	log.Printf("[main] wrote %d artifacts from %d rows (%d empty) to %s",
		len(report.Artifacts), report.Rows, report.Empty, store.URI(""))
	return nil
}

func planCommand(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, table, src, err := setup(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	store, err := storage.NewSampleStore(ctx, storageConfig(cfg.Output))
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	g := gather.New(cfg, table, src, store, gather.Deps{})
	plans, err := g.Plan(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range plans {
		status := "new"
		if p.Replaces {
			status = "replaces existing"
		}
		fmt.Fprintf(out, "%s\t%d rows\t%d files\t%s\n", p.Key(), len(p.Rows), p.FileCount(), status)
		for _, rs := range p.Sources {
			fmt.Fprintf(out, "  %s/%d\t%s\n", rs.Row.Group, rs.Row.Barcode, rs.Pattern)
			for _, name := range rs.Files {
				fmt.Fprintf(out, "    %s\n", name)
			}
		}
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			log.Printf("[shutdown] received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func storageConfig(out config.OutputConfig) storage.StorageConfig {
	cfg := storage.StorageConfig{
		Backend:    out.Backend,
		LocalDir:   out.Dir,
		S3Endpoint: out.Endpoint,
		S3Region:   out.Region,
		URL:        out.URL,
		Prefix:     out.Prefix,
	}
	switch out.Backend {
	case "gcs":
		cfg.GCSBucket = out.Bucket
	case "s3":
		cfg.S3Bucket = out.Bucket
	}
	return cfg
}
