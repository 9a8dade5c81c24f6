package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Generator.Days != 30 || len(cfg.Generator.Entities) != 10 || len(cfg.Generator.Resources) != 12 {
		t.Errorf("Expected defaults, got %+v", cfg.Generator)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("Expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costcluster.yaml")
	yml := `
generator:
  days: 7
  entities: [a, b, c]
analysis:
  k_max: 4
  normalize: true
storage:
  backend: sqlite
  compact_after: 48h
logging:
  format: json
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Generator.Days != 7 {
		t.Errorf("days = %d, want 7", cfg.Generator.Days)
	}
	if len(cfg.Generator.Entities) != 3 {
		t.Errorf("entities = %v, want 3", cfg.Generator.Entities)
	}
	if len(cfg.Generator.Resources) != 12 {
		t.Errorf("resources should keep their default, got %d", len(cfg.Generator.Resources))
	}
	if cfg.Analysis.KMax != 4 || !cfg.Analysis.Normalize {
		t.Errorf("analysis overrides not applied: %+v", cfg.Analysis)
	}
	if cfg.Analysis.KMin != 2 {
		t.Errorf("k_min should keep its default, got %d", cfg.Analysis.KMin)
	}
	if cfg.Storage.Backend != StorageSQLite || cfg.Storage.CompactAfter != 48*time.Hour {
		t.Errorf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COSTCLUSTER_STORAGE", StorageBadger)
	t.Setenv("COSTCLUSTER_DATA_DIR", "/tmp/cc")
	t.Setenv("COSTCLUSTER_PORT", "9090")
	t.Setenv("COSTCLUSTER_LOG_LEVEL", "debug")
	t.Setenv("COSTCLUSTER_OUTPUT_DIR", "/tmp/out")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != StorageBadger || cfg.Storage.DataDir != "/tmp/cc" {
		t.Errorf("storage env overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Report.OutputDir != "/tmp/out" {
		t.Errorf("output dir = %q, want /tmp/out", cfg.Report.OutputDir)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("generator: [unclosed"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero days", func(c *Config) { c.Generator.Days = 0 }},
		{"inverted entity base", func(c *Config) { c.Generator.EntityBaseMax = c.Generator.EntityBaseMin - 1 }},
		{"inverted resource base", func(c *Config) { c.Generator.ResourceBaseMax = c.Generator.ResourceBaseMin - 1 }},
		{"negative noise", func(c *Config) { c.Generator.NoiseStdDev = -1 }},
		{"k_min below 2", func(c *Config) { c.Analysis.KMin = 1 }},
		{"k_max below k_min", func(c *Config) { c.Analysis.KMax = 1 }},
		{"no restarts", func(c *Config) { c.Analysis.KMeansRestarts = 0 }},
		{"percentile above 100", func(c *Config) { c.Analysis.DBSCANPercent = 101 }},
		{"hdbscan min size", func(c *Config) { c.Analysis.HDBSCANMinSize = 1 }},
		{"top_n", func(c *Config) { c.Report.TopN = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"negative compaction age", func(c *Config) { c.Storage.CompactAfter = -time.Hour }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "costcluster.yaml")

	cfg := DefaultConfig()
	cfg.Generator.Seed = 7
	cfg.Segmentation.Enabled = false
	cfg.Report.ClusterNames = map[int]string{0: "Batch", 1: "Web"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Generator.Seed != 7 || loaded.Segmentation.Enabled {
		t.Errorf("round trip lost settings: %+v %+v", loaded.Generator, loaded.Segmentation)
	}
	if !loaded.Generator.Start.Equal(cfg.Generator.Start) {
		t.Errorf("start = %v, want %v", loaded.Generator.Start, cfg.Generator.Start)
	}
	if loaded.Report.ClusterNames[1] != "Web" {
		t.Errorf("cluster names = %v", loaded.Report.ClusterNames)
	}
	if loaded.Storage.CompactAfter != DefaultCompactAfter {
		t.Errorf("compact_after = %v, want %v", loaded.Storage.CompactAfter, DefaultCompactAfter)
	}
}
