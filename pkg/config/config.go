package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/costcluster"
	DefaultOutputDir    = "./output"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageMB = 1024
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
	StorageSQLite = "sqlite"
)

// Background task intervals
const (
	BadgerGCInterval    = 10 * time.Minute
	BadgerGCDiscard     = 0.5
	CompactionInterval  = 1 * time.Hour
	DefaultCompactAfter = 7 * 24 * time.Hour
	RunStaleAfter       = 24 * time.Hour
	ShutdownTimeout     = 30 * time.Second
)

// Request timeouts and limits
const (
	IngestTimeout       = 5 * time.Second
	QueryTimeout        = 10 * time.Second
	RunTimeout          = 2 * time.Minute
	StatsTimeout        = 5 * time.Second
	QueryDefaultLimit   = 1000
	QueryMaxLimit       = 50000
	MaxRunHistory       = 20
	MaxImportBatchSize  = 5000
	DefaultExportFormat = "json"
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config holds all costcluster configuration.
type Config struct {
	Generator    GeneratorConfig    `yaml:"generator"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Report       ReportConfig       `yaml:"report"`
	Storage      StorageConfig      `yaml:"storage"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// GeneratorConfig configures synthetic cost data.
type GeneratorConfig struct {
	Entities  []string  `yaml:"entities"`
	Resources []string  `yaml:"resources"`
	Days      int       `yaml:"days"`
	Seed      uint64    `yaml:"seed"`
	Start     time.Time `yaml:"start"`

	EntityBaseMin   float64 `yaml:"entity_base_min"`
	EntityBaseMax   float64 `yaml:"entity_base_max"`
	ResourceBaseMin float64 `yaml:"resource_base_min"`
	ResourceBaseMax float64 `yaml:"resource_base_max"`
	NoiseStdDev     float64 `yaml:"noise_std_dev"`
}

// AnalysisConfig configures the clustering battery.
type AnalysisConfig struct {
	KMin            int     `yaml:"k_min"`
	KMax            int     `yaml:"k_max"`
	KMeansRestarts  int     `yaml:"kmeans_restarts"`
	Seed            uint64  `yaml:"seed"`
	GMMMaxComponent int     `yaml:"gmm_max_components"`
	DBSCANNeighbors int     `yaml:"dbscan_neighbors"`
	DBSCANPercent   float64 `yaml:"dbscan_percentile"`
	DBSCANMinPoints int     `yaml:"dbscan_min_samples"`
	HDBSCANMinSize  int     `yaml:"hdbscan_min_cluster_size"`
	EnableHDBSCAN   bool    `yaml:"enable_hdbscan"`
	EnableLouvain   bool    `yaml:"enable_louvain"`
	LouvainCutoff   float64 `yaml:"louvain_similarity_threshold"`
	Normalize       bool    `yaml:"normalize"` // cluster on percentage composition instead of absolute cost
}

// SegmentationConfig configures the fixed-k cost tier and usage pattern segments.
type SegmentationConfig struct {
	Enabled       bool `yaml:"enabled"`
	CostTierK     int  `yaml:"cost_tier_k"`
	UsagePatternK int  `yaml:"usage_pattern_k"`
	SweepKMin     int  `yaml:"sweep_k_min"`
	SweepKMax     int  `yaml:"sweep_k_max"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	OutputDir    string         `yaml:"output_dir"`
	TopN         int            `yaml:"top_n"`
	Plots        bool           `yaml:"plots"`
	Console      bool           `yaml:"console"`
	ClusterNames map[int]string `yaml:"cluster_names"`
}

// StorageConfig selects and tunes the observation store.
type StorageConfig struct {
	Backend      string        `yaml:"backend"` // memory, badger, sqlite
	DataDir      string        `yaml:"data_dir"`
	MaxMemoryMB  int64         `yaml:"max_memory_mb"`
	MaxStorageMB int64         `yaml:"max_storage_mb"` // 0 = unlimited
	StrictCost   bool          `yaml:"strict_cost"`
	CompactAfter time.Duration `yaml:"compact_after"` // merge same-day observations older than this; 0 disables
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultEntities are the demo applications.
var DefaultEntities = []string{
	"SalesPortal", "HRSystem", "PayrollApp", "InventoryMgmt", "CustomerPortal",
	"AnalyticsDashboard", "EmailService", "DevOpsTooling", "KnowledgeBase", "ChatOps",
}

// DefaultResources are the demo cloud services.
var DefaultResources = []string{
	"AWS Lambda", "Amazon API Gateway", "Amazon DynamoDB", "Amazon RDS",
	"Amazon SNS", "Amazon SQS", "Amazon S3", "Amazon VPC",
	"Amazon CloudWatch", "Amazon EC2", "Amazon ECS", "Amazon Redshift",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Entities:        append([]string(nil), DefaultEntities...),
			Resources:       append([]string(nil), DefaultResources...),
			Days:            30,
			Seed:            42,
			Start:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EntityBaseMin:   500,
			EntityBaseMax:   2000,
			ResourceBaseMin: 50,
			ResourceBaseMax: 500,
			NoiseStdDev:     50,
		},
		Analysis: AnalysisConfig{
			KMin:            2,
			KMax:            6,
			KMeansRestarts:  10,
			Seed:            0,
			GMMMaxComponent: 6,
			DBSCANNeighbors: 5,
			DBSCANPercent:   80,
			DBSCANMinPoints: 3,
			HDBSCANMinSize:  3,
			EnableHDBSCAN:   true,
			EnableLouvain:   true,
			LouvainCutoff:   0.5,
		},
		Segmentation: SegmentationConfig{
			Enabled:       true,
			CostTierK:     6,
			UsagePatternK: 6,
			SweepKMin:     2,
			SweepKMax:     9,
		},
		Report: ReportConfig{
			OutputDir: DefaultOutputDir,
			TopN:      3,
			Plots:     false,
			Console:   true,
			ClusterNames: map[int]string{
				0: "A",
				1: "Server full applications",
				2: "Server less applications",
				3: "Database applications",
				4: "E",
				5: "F",
			},
		},
		Storage: StorageConfig{
			Backend:      StorageMemory,
			DataDir:      DefaultDataDir,
			MaxMemoryMB:  DefaultMaxMemoryMB,
			MaxStorageMB: DefaultMaxStorageMB,
			CompactAfter: DefaultCompactAfter,
		},
		Server: ServerConfig{
			Port:         DefaultPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: RunTimeout + 10*time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override file settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COSTCLUSTER_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("COSTCLUSTER_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("COSTCLUSTER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("COSTCLUSTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COSTCLUSTER_OUTPUT_DIR"); v != "" {
		c.Report.OutputDir = v
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects settings that cannot produce a run.
// Cluster count ranges are not checked here; the analyzer clips them.
func (c *Config) Validate() error {
	g := c.Generator
	switch {
	case g.Days < 1:
		return fmt.Errorf("%w: generator.days must be >= 1, got %d", ErrInvalidConfig, g.Days)
	case g.EntityBaseMax < g.EntityBaseMin:
		return fmt.Errorf("%w: generator entity base range is inverted", ErrInvalidConfig)
	case g.ResourceBaseMax < g.ResourceBaseMin:
		return fmt.Errorf("%w: generator resource base range is inverted", ErrInvalidConfig)
	case g.NoiseStdDev < 0:
		return fmt.Errorf("%w: generator.noise_std_dev cannot be negative", ErrInvalidConfig)
	}

	a := c.Analysis
	switch {
	case a.KMin < 2:
		return fmt.Errorf("%w: analysis.k_min must be >= 2, got %d", ErrInvalidConfig, a.KMin)
	case a.KMax < a.KMin:
		return fmt.Errorf("%w: analysis.k_max (%d) < k_min (%d)", ErrInvalidConfig, a.KMax, a.KMin)
	case a.KMeansRestarts < 1:
		return fmt.Errorf("%w: analysis.kmeans_restarts must be >= 1", ErrInvalidConfig)
	case a.DBSCANPercent < 0 || a.DBSCANPercent > 100:
		return fmt.Errorf("%w: analysis.dbscan_percentile must be within [0, 100]", ErrInvalidConfig)
	case a.DBSCANMinPoints < 1 || a.HDBSCANMinSize < 2:
		return fmt.Errorf("%w: density minimum sizes too small", ErrInvalidConfig)
	}

	if c.Report.TopN < 1 {
		return fmt.Errorf("%w: report.top_n must be >= 1", ErrInvalidConfig)
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageBadger, StorageSQLite:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.CompactAfter < 0 || c.Storage.MaxStorageMB < 0 {
		return fmt.Errorf("%w: storage limits cannot be negative", ErrInvalidConfig)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
