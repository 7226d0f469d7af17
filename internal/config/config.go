package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Same-sample policies.
const (
	SameSampleOverwrite = "overwrite"
	SameSampleMerge     = "merge"
)

// Failure policies.
const (
	OnErrorAbort    = "abort"
	OnErrorContinue = "continue"
)

type Config struct {
	Manifest ManifestConfig `yaml:"manifest"`
	Source   SourceConfig   `yaml:"source"`
	Output   OutputConfig   `yaml:"output"`
	Gather   GatherConfig   `yaml:"gather"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

type ManifestConfig struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"` // empty: inferred from extension
}

type SourceConfig struct {
	Backend  string `yaml:"backend"` // local | gcs | s3 | url
	Root     string `yaml:"root"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	URL      string `yaml:"url"`
}

type OutputConfig struct {
	Backend      string `yaml:"backend"` // local | gcs | s3 | url
	Dir          string `yaml:"dir"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	URL          string `yaml:"url"`
	WriteSummary bool   `yaml:"write_summary"`
}

type GatherConfig struct {
	SortSources      bool   `yaml:"sort_sources"`
	SameSample       string `yaml:"same_sample"`
	OnError          string `yaml:"on_error"`
	// SkipEmpty writes no artifact for a job that matched no read files.
	// Under overwrite, a later empty row then leaves the artifact of an
	// earlier row for the same sample published.
	SkipEmpty        bool   `yaml:"skip_empty"`
	Workers          int    `yaml:"workers"`
	CompressionLevel int    `yaml:"compression_level"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type CatalogConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Manifest: ManifestConfig{Path: "barcodes.csv"},
		Source:   SourceConfig{Backend: "local", Root: "."},
		Output:   OutputConfig{Backend: "local", Dir: "raw"},
		Gather: GatherConfig{
			SortSources:      true,
			SameSample:       SameSampleOverwrite,
			OnError:          OnErrorAbort,
			Workers:          1,
			CompressionLevel: 6,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the configuration or exits the process.
func MustLoad(path string) Config {
	log.Println("[config] loading")
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func (c *Config) applyEnv() error {
	c.Manifest.Path = getenvDefault("GATHER_MANIFEST", c.Manifest.Path)
	c.Manifest.Delimiter = getenvDefault("GATHER_MANIFEST_DELIMITER", c.Manifest.Delimiter)

	c.Source.Backend = getenvDefault("GATHER_SOURCE_BACKEND", c.Source.Backend)
	c.Source.Root = getenvDefault("GATHER_SOURCE_ROOT", c.Source.Root)
	c.Source.Bucket = getenvDefault("GATHER_SOURCE_BUCKET", c.Source.Bucket)
	c.Source.Prefix = getenvDefault("GATHER_SOURCE_PREFIX", c.Source.Prefix)
	c.Source.URL = getenvDefault("GATHER_SOURCE_URL", c.Source.URL)

	c.Output.Backend = getenvDefault("GATHER_OUTPUT_BACKEND", c.Output.Backend)
	c.Output.Dir = getenvDefault("GATHER_OUTPUT_DIR", c.Output.Dir)
	c.Output.Bucket = getenvDefault("GATHER_OUTPUT_BUCKET", c.Output.Bucket)
	c.Output.Prefix = getenvDefault("GATHER_OUTPUT_PREFIX", c.Output.Prefix)
	c.Output.URL = getenvDefault("GATHER_OUTPUT_URL", c.Output.URL)

	// S3-compatible endpoints are shared by both sides unless set per side.
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		if c.Source.Endpoint == "" {
			c.Source.Endpoint = v
		}
		if c.Output.Endpoint == "" {
			c.Output.Endpoint = v
		}
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		if c.Source.Region == "" {
			c.Source.Region = v
		}
		if c.Output.Region == "" {
			c.Output.Region = v
		}
	}

	c.Gather.SameSample = getenvDefault("GATHER_SAME_SAMPLE", c.Gather.SameSample)
	c.Gather.OnError = getenvDefault("GATHER_ON_ERROR", c.Gather.OnError)

	var err error
	if c.Output.WriteSummary, err = getenvBool("GATHER_WRITE_SUMMARY", c.Output.WriteSummary); err != nil {
		return err
	}
	if c.Gather.SortSources, err = getenvBool("GATHER_SORT_SOURCES", c.Gather.SortSources); err != nil {
		return err
	}
	if c.Gather.SkipEmpty, err = getenvBool("GATHER_SKIP_EMPTY", c.Gather.SkipEmpty); err != nil {
		return err
	}
	if c.Gather.Workers, err = getenvInt("GATHER_WORKERS", c.Gather.Workers); err != nil {
		return err
	}
	if c.Gather.CompressionLevel, err = getenvInt("GATHER_COMPRESSION_LEVEL", c.Gather.CompressionLevel); err != nil {
		return err
	}

	c.Logging.Level = getenvDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getenvDefault("LOG_FORMAT", c.Logging.Format)
	c.Metrics.Addr = getenvDefault("METRICS_ADDR", c.Metrics.Addr)
	c.Catalog.DSN = getenvDefault("CATALOG_DSN", c.Catalog.DSN)
	return nil
}

// Validate checks the configuration for values the gatherer cannot run with.
func (c Config) Validate() error {
	var problems []string

	if c.Manifest.Path == "" {
		problems = append(problems, "manifest.path is required")
	}
	switch c.Manifest.Delimiter {
	case "", ",", "\t", "tab":
	default:
		problems = append(problems, fmt.Sprintf("manifest.delimiter %q is not supported", c.Manifest.Delimiter))
	}
	switch c.Gather.SameSample {
	case SameSampleOverwrite, SameSampleMerge:
	default:
		problems = append(problems, fmt.Sprintf("gather.same_sample must be %q or %q, got %q",
			SameSampleOverwrite, SameSampleMerge, c.Gather.SameSample))
	}
	switch c.Gather.OnError {
	case OnErrorAbort, OnErrorContinue:
	default:
		problems = append(problems, fmt.Sprintf("gather.on_error must be %q or %q, got %q",
			OnErrorAbort, OnErrorContinue, c.Gather.OnError))
	}
	if c.Gather.Workers < 1 {
		problems = append(problems, "gather.workers must be at least 1")
	}
	if c.Gather.CompressionLevel < -2 || c.Gather.CompressionLevel > 9 {
		problems = append(problems, "gather.compression_level must be between -2 and 9")
	}
	if (c.Output.Backend == "" || c.Output.Backend == "local") && c.Output.Dir == "" {
		problems = append(problems, "output.dir is required for the local backend")
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Comma returns the manifest delimiter rune, or 0 to infer it from the
// manifest file name.
func (m ManifestConfig) Comma() rune {
	switch m.Delimiter {
	case "\t", "tab":
		return '\t'
	case ",":
		return ','
	default:
		return 0
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
