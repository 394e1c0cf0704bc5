package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultRecordSuffix is the extension given to numbered record files.
	DefaultRecordSuffix = ".jsonl"
	// DefaultSampleLimit caps the sample lines kept per folder summary.
	DefaultSampleLimit = 10
	// DefaultExtractTimeout bounds a single call to the extraction tool.
	DefaultExtractTimeout = 30 * time.Minute
)

// DefaultExtractorArgs is a Bandizip "extract to folder" call.
// {archive} and {dest} are substituted per call.
var DefaultExtractorArgs = []string{"x", "-o:", "{archive}", "{dest}"}

// Config holds application settings
type Config struct {
	RootDir       string          `yaml:"root_dir"`
	OutputDir     string          `yaml:"output_dir"`
	DbPath        string          `yaml:"db_path"`
	CatalogPath   string          `yaml:"catalog_path"`
	RecordSuffix  string          `yaml:"record_suffix"`
	SampleLimit   int             `yaml:"sample_limit"`
	SkipCompleted bool            `yaml:"skip_completed"`
	Extractor     ExtractorConfig `yaml:"extractor"`
}

// ExtractorConfig describes how the external decompression tool is invoked.
type ExtractorConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Env     []string      `yaml:"env"`
}

// Load reads and parses the YAML config at path and applies defaults.
// Paths beginning with "./" are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.RootDir = expandPath(cfg.RootDir, configDir)
	cfg.OutputDir = expandPath(cfg.OutputDir, configDir)
	cfg.CatalogPath = expandPath(cfg.CatalogPath, configDir)
	if cfg.DbPath != ":memory:" {
		cfg.DbPath = expandPath(cfg.DbPath, configDir)
	}
	return &cfg, nil
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.RootDir == "" {
		cfg.RootDir = "./未清洗"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.DbPath == "" {
		cfg.DbPath = "./jsonlpack_state.duckdb"
	}
	if cfg.RecordSuffix == "" {
		cfg.RecordSuffix = DefaultRecordSuffix
	}
	if !strings.HasPrefix(cfg.RecordSuffix, ".") {
		cfg.RecordSuffix = "." + cfg.RecordSuffix
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = DefaultSampleLimit
	}
	if cfg.Extractor.Command == "" {
		cfg.Extractor.Command = "bz"
	}
	if len(cfg.Extractor.Args) == 0 {
		cfg.Extractor.Args = append([]string(nil), DefaultExtractorArgs...)
	}
	if cfg.Extractor.Timeout <= 0 {
		cfg.Extractor.Timeout = DefaultExtractTimeout
	}
	if cfg.Extractor.Retries < 0 {
		cfg.Extractor.Retries = 0
	}
}

// CatalogFile returns the catalog location, defaulting to catalog.parquet in the output dir.
func (c *Config) CatalogFile() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return filepath.Join(c.OutputDir, "catalog.parquet")
}

// Validate reports settings that cannot work regardless of the filesystem state.
func (c *Config) Validate() error {
	if c.RootDir == "" || c.OutputDir == "" || c.DbPath == "" {
		return fmt.Errorf("root dir, output dir and db path are required")
	}
	if c.Extractor.Command == "" {
		return fmt.Errorf("extractor command is required")
	}
	var hasArchive bool
	for _, a := range c.Extractor.Args {
		if strings.Contains(a, "{archive}") {
			hasArchive = true
		}
	}
	if !hasArchive {
		return fmt.Errorf("extractor args must reference {archive}")
	}
	rootAbs, err1 := filepath.Abs(c.RootDir)
	outAbs, err2 := filepath.Abs(c.OutputDir)
	if err1 == nil && err2 == nil {
		if outAbs == rootAbs || strings.HasPrefix(outAbs, rootAbs+string(filepath.Separator)) {
			return fmt.Errorf("output dir %s must not be inside root dir %s", c.OutputDir, c.RootDir)
		}
	}
	return nil
}

// expandPath converts "./"-prefixed paths to be relative to configDir.
// Other paths are returned untouched.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
