package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
root_dir: "./raw"
output_dir: "/srv/out"
sample_limit: 5
extractor:
  command: "7z"
  args: ["x", "-o{dest}", "{archive}"]
  timeout: 90s
  retries: 2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "raw"); cfg.RootDir != want {
		t.Errorf("root_dir = %s, want %s", cfg.RootDir, want)
	}
	if cfg.OutputDir != "/srv/out" {
		t.Errorf("absolute output_dir should be untouched, got %s", cfg.OutputDir)
	}
	if cfg.SampleLimit != 5 {
		t.Errorf("sample_limit = %d, want 5", cfg.SampleLimit)
	}
	if cfg.Extractor.Command != "7z" || len(cfg.Extractor.Args) != 3 {
		t.Errorf("unexpected extractor config: %+v", cfg.Extractor)
	}
	if cfg.Extractor.Timeout != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", cfg.Extractor.Timeout)
	}
	if cfg.Extractor.Retries != 2 {
		t.Errorf("retries = %d, want 2", cfg.Extractor.Retries)
	}
	if cfg.RecordSuffix != DefaultRecordSuffix {
		t.Errorf("record_suffix should default to %s, got %s", DefaultRecordSuffix, cfg.RecordSuffix)
	}
	if got, want := cfg.CatalogFile(), filepath.Join("/srv/out", "catalog.parquet"); got != want {
		t.Errorf("catalog file = %s, want %s", got, want)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("root_dir: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{RecordSuffix: "ndjson"}
	ApplyDefaults(cfg)
	if cfg.RecordSuffix != ".ndjson" {
		t.Errorf("suffix should gain a leading dot, got %q", cfg.RecordSuffix)
	}
	if cfg.SampleLimit != DefaultSampleLimit {
		t.Errorf("sample limit: got %d", cfg.SampleLimit)
	}
	if cfg.Extractor.Command != "bz" {
		t.Errorf("extractor command: got %q", cfg.Extractor.Command)
	}
	if len(cfg.Extractor.Args) != len(DefaultExtractorArgs) {
		t.Errorf("extractor args: got %v", cfg.Extractor.Args)
	}
	cfg.Extractor.Args[0] = "mutated"
	if DefaultExtractorArgs[0] != "x" {
		t.Error("defaults must be copied, not aliased")
	}
	if cfg.Extractor.Timeout != DefaultExtractTimeout {
		t.Errorf("timeout: got %s", cfg.Extractor.Timeout)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{RootDir: "/data/in", OutputDir: "/data/out", DbPath: ":memory:"}
		ApplyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "output inside root", mutate: func(c *Config) { c.OutputDir = "/data/in/out" }, wantErr: true},
		{name: "output equals root", mutate: func(c *Config) { c.OutputDir = "/data/in" }, wantErr: true},
		{name: "sibling with shared prefix", mutate: func(c *Config) { c.OutputDir = "/data/in2" }},
		{name: "no archive placeholder", mutate: func(c *Config) { c.Extractor.Args = []string{"x", "{dest}"} }, wantErr: true},
		{name: "empty command", mutate: func(c *Config) { c.Extractor.Command = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
