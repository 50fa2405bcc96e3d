// Package config provides configuration management for vidsift.
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, then by CLI flags. The resulting Config value is
// immutable once handed to the pipeline components.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultLogLevel       = "info"
	DefaultDownloadDir    = "downloaded_videos"
	DefaultProcessedDir   = "processed_videos"
	DefaultMaxWorkers     = 5
	DefaultMaxRetries     = 3
	DefaultSceneThreshold = 0.3
	DefaultInstruction    = "Describe this video."

	// Environment variable names
	EnvLogLevel       = "VIDSIFT_LOG_LEVEL"
	EnvDownloadDir    = "VIDSIFT_DOWNLOAD_DIR"
	EnvProcessedDir   = "VIDSIFT_PROCESSED_DIR"
	EnvMongoURI       = "VIDSIFT_MONGO_URI"
	EnvMongoDatabase  = "VIDSIFT_MONGO_DATABASE"
	EnvMongoColl      = "VIDSIFT_MONGO_COLLECTION"
	EnvHistoryPath    = "VIDSIFT_HISTORY_PATH"
	EnvAIEndpoint     = "VIDSIFT_AI_ENDPOINT"
	EnvAIVPCEndpoint  = "VIDSIFT_AI_VPC_ENDPOINT"
	EnvAIAPIKey       = "VIDSIFT_AI_API_KEY"
	EnvAIModelDir     = "VIDSIFT_AI_MODEL_DIR"
	EnvMaxWorkers     = "VIDSIFT_MAX_WORKERS"
	EnvMaxRetries     = "VIDSIFT_MAX_RETRIES"
	EnvSceneThreshold = "VIDSIFT_SCENE_THRESHOLD"
	EnvStatusPort     = "VIDSIFT_STATUS_PORT"

	// External call timeouts (seconds)
	DefaultDownloadTimeout = 1800
	DefaultProbeTimeout    = 60
	DefaultSceneTimeout    = 600
	DefaultAnalyzeTimeout  = 300
	DefaultExportTimeout   = 30

	// Retry backoff curve
	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxInterval     = 30 * time.Second
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse
// with time.ParseDuration instead of as raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Paths holds filesystem locations shared by all workers.
type Paths struct {
	DownloadDir  string `yaml:"download_dir"`
	ProcessedDir string `yaml:"processed_dir"`
}

// Store configures the optional document store for exported records.
// The store is disabled when MongoURI is empty.
type Store struct {
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// History configures the optional local run-history database.
// Disabled when Path is empty.
type History struct {
	Path string `yaml:"path"`
}

// AI configures the vision-language inference endpoint.
type AI struct {
	Endpoint         string   `yaml:"endpoint"`
	VPCEndpoint      string   `yaml:"vpc_endpoint"`
	APIKey           string   `yaml:"api_key"`
	ModelDir         string   `yaml:"model_dir"`
	Instruction      string   `yaml:"instruction"`
	PriorityKeywords []string `yaml:"priority_keywords"`
	UseVPC           bool     `yaml:"use_vpc"`
}

// Pipeline holds the orchestration knobs.
type Pipeline struct {
	MaxWorkers      int      `yaml:"max_workers"`
	MaxRetries      int      `yaml:"max_retries"`
	SceneThreshold  float64  `yaml:"scene_threshold"`
	DownloadTimeout Duration `yaml:"download_timeout"`
	ProbeTimeout    Duration `yaml:"probe_timeout"`
	SceneTimeout    Duration `yaml:"scene_timeout"`
	AnalyzeTimeout  Duration `yaml:"analyze_timeout"`
	ExportTimeout   Duration `yaml:"export_timeout"`
}

// Status configures the optional local monitoring API.
// Disabled when Port is zero.
type Status struct {
	Port int `yaml:"port"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	Paths    Paths    `yaml:"paths"`
	Store    Store    `yaml:"store"`
	History  History  `yaml:"history"`
	AI       AI       `yaml:"ai"`
	Pipeline Pipeline `yaml:"pipeline"`
	Status   Status   `yaml:"status"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Paths: Paths{
			DownloadDir:  DefaultDownloadDir,
			ProcessedDir: DefaultProcessedDir,
		},
		AI: AI{
			Instruction: DefaultInstruction,
		},
		Pipeline: Pipeline{
			MaxWorkers:      DefaultMaxWorkers,
			MaxRetries:      DefaultMaxRetries,
			SceneThreshold:  DefaultSceneThreshold,
			DownloadTimeout: Duration(DefaultDownloadTimeout * time.Second),
			ProbeTimeout:    Duration(DefaultProbeTimeout * time.Second),
			SceneTimeout:    Duration(DefaultSceneTimeout * time.Second),
			AnalyzeTimeout:  Duration(DefaultAnalyzeTimeout * time.Second),
			ExportTimeout:   Duration(DefaultExportTimeout * time.Second),
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and environment
// variables, in that precedence order. An empty path skips the file step; a
// non-empty path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDownloadDir); v != "" {
		c.Paths.DownloadDir = v
	}
	if v := os.Getenv(EnvProcessedDir); v != "" {
		c.Paths.ProcessedDir = v
	}
	if v := os.Getenv(EnvMongoURI); v != "" {
		c.Store.MongoURI = v
	}
	if v := os.Getenv(EnvMongoDatabase); v != "" {
		c.Store.Database = v
	}
	if v := os.Getenv(EnvMongoColl); v != "" {
		c.Store.Collection = v
	}
	if v := os.Getenv(EnvHistoryPath); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv(EnvAIEndpoint); v != "" {
		c.AI.Endpoint = v
	}
	if v := os.Getenv(EnvAIVPCEndpoint); v != "" {
		c.AI.VPCEndpoint = v
	}
	if v := os.Getenv(EnvAIAPIKey); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv(EnvAIModelDir); v != "" {
		c.AI.ModelDir = v
	}
	if v := os.Getenv(EnvMaxWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxWorkers, err)
		}
		c.Pipeline.MaxWorkers = n
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxRetries, err)
		}
		c.Pipeline.MaxRetries = n
	}
	if v := os.Getenv(EnvSceneThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSceneThreshold, err)
		}
		c.Pipeline.SceneThreshold = f
	}
	if v := os.Getenv(EnvStatusPort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStatusPort, err)
		}
		c.Status.Port = n
	}
	return nil
}

// Validate checks ranges that would otherwise surface as confusing runtime
// behavior deep inside the worker pool.
func (c *Config) Validate() error {
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline.max_workers must be at least 1, got %d", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries cannot be negative, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.SceneThreshold < 0 || c.Pipeline.SceneThreshold > 1 {
		return fmt.Errorf("pipeline.scene_threshold must be within [0,1], got %g", c.Pipeline.SceneThreshold)
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 0 and 65535, got %d", c.Status.Port)
	}
	return nil
}

// AIEndpoint returns the endpoint selected by the UseVPC flag.
func (c *Config) AIEndpoint() string {
	if c.AI.UseVPC && c.AI.VPCEndpoint != "" {
		return c.AI.VPCEndpoint
	}
	return c.AI.Endpoint
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
