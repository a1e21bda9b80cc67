package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main mnemo configuration
type Config struct {
	// Data directory; store paths default to locations under it
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Search    SearchConfig    `json:"search" mapstructure:"search"`
	Reconcile ReconcileConfig `json:"reconcile" mapstructure:"reconcile"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// StoreConfig holds the two database locations and the embedding dimension
// the index is pinned to
type StoreConfig struct {
	RecordsPath string `json:"records_path" mapstructure:"records_path"`
	IndexPath   string `json:"index_path" mapstructure:"index_path"`
	Dimension   int    `json:"dimension" mapstructure:"dimension"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider      string `json:"provider" mapstructure:"provider"` // openai, onnx, mock
	Model         string `json:"model" mapstructure:"model"`
	APIKey        string `json:"api_key" mapstructure:"api_key"`
	Workers       int    `json:"workers" mapstructure:"workers"`
	CacheSize     int    `json:"cache_size" mapstructure:"cache_size"`
	ModelPath     string `json:"model_path" mapstructure:"model_path"`         // onnx only
	TokenizerPath string `json:"tokenizer_path" mapstructure:"tokenizer_path"` // onnx only
}

// SearchConfig holds hybrid search tuning
type SearchConfig struct {
	MaxResultsPerSource int     `json:"max_results_per_source" mapstructure:"max_results_per_source"`
	VectorWeight        float64 `json:"vector_weight" mapstructure:"vector_weight"`
	TextWeight          float64 `json:"text_weight" mapstructure:"text_weight"`
	DefaultLimit        int     `json:"default_limit" mapstructure:"default_limit"`
}

// ReconcileConfig holds the drift-repair schedule
type ReconcileConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // 5-field cron
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"` // JSONL audit log
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Dimension: 1536,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Workers:   2,
			CacheSize: 4096,
		},
		Search: SearchConfig{
			MaxResultsPerSource: 20,
			VectorWeight:        0.5,
			TextWeight:          0.5,
			DefaultLimit:        5,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "*/30 * * * *",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Store.Dimension <= 0 {
		return fmt.Errorf("store dimension must be positive, got %d", c.Store.Dimension)
	}

	switch c.Embedding.Provider {
	case "openai":
		if err := ValidateAPIKey(c.Embedding.APIKey, "openai"); err != nil {
			return err
		}
	case "onnx":
		if c.Embedding.ModelPath == "" {
			return fmt.Errorf("embedding model_path is required for the onnx provider")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown embedding provider %q (must be: openai, onnx, mock)", c.Embedding.Provider)
	}

	if c.Embedding.Workers < 0 {
		return fmt.Errorf("embedding workers must not be negative")
	}

	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	if c.Search.VectorWeight == 0 && c.Search.TextWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}

	if c.Reconcile.Enabled {
		if err := ValidateCronSchedule(c.Reconcile.Schedule); err != nil {
			return fmt.Errorf("invalid reconcile schedule: %w", err)
		}
	}

	if c.Logging.Level != "" {
		if err := ValidateLogLevel(c.Logging.Level); err != nil {
			return err
		}
	}

	return nil
}
