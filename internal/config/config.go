// Package config provides configuration loading and structs for the recall server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	CORSOrigins    []string        `yaml:"cors_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket. Zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
)

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend        string        `yaml:"backend"`
	DSN            string        `yaml:"dsn"`
	Schema         string        `yaml:"schema"`
	Table          string        `yaml:"table"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SQLitePath     string        `yaml:"sqlite_path"`
	Qdrant         QdrantConfig  `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// Embedding providers.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	VocabPath  string `yaml:"vocab_path"`
	OutputName string `yaml:"output_name"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
}

// CacheConfig configures the shared Redis embedding cache. Empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// SearchConfig holds query defaults and bounds.
type SearchConfig struct {
	DefaultLimit     int           `yaml:"default_limit"`
	MaxLimit         int           `yaml:"max_limit"`
	DefaultThreshold *float64      `yaml:"default_threshold"`
	DefaultMetric    string        `yaml:"default_metric"`
	Roles            []string      `yaml:"roles"`
	RetryAttempts    *int          `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
}

// ThresholdOrDefault returns the configured default threshold, or 0.3 when unset.
func (s *SearchConfig) ThresholdOrDefault() float64 {
	if s.DefaultThreshold != nil {
		return *s.DefaultThreshold
	}
	return 0.3
}

// RetryAttemptsOrDefault returns the number of retries for unavailable stores; defaults to 1.
func (s *SearchConfig) RetryAttemptsOrDefault() int {
	if s.RetryAttempts != nil {
		return *s.RetryAttempts
	}
	return 1
}

// IngestConfig holds conversation export loading and watch settings.
type IngestConfig struct {
	WatchDirectories []string `yaml:"watch_directories"`
	Extensions       []string `yaml:"extensions"`
	Recursive        *bool    `yaml:"recursive"`
	BatchSize        int      `yaml:"batch_size"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *IngestConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies environment overrides, expands
// paths and then applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg, os.Getenv)
	inferBackend(&cfg.Store)

	// Paths are expanded before defaults so that derived defaults (the vocabulary next to
	// the model) start from the expanded path.
	configDir := filepath.Dir(path)
	cfg.Store.SQLitePath = expandPath(cfg.Store.SQLitePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.VocabPath = expandPath(cfg.Embedding.VocabPath, configDir)
	for i := range cfg.Ingest.WatchDirectories {
		cfg.Ingest.WatchDirectories[i] = expandPath(cfg.Ingest.WatchDirectories[i], configDir)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// BackendFromDSN infers a store backend from a connection string: postgres URLs,
// "memory:", and anything else is treated as a SQLite file path.
func BackendFromDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres
	case dsn == "memory:" || dsn == ":memory:":
		return BackendMemory
	default:
		return BackendSQLite
	}
}

// inferBackend fills an unset backend from the DSN. A SQLite DSN is the database path
// unless sqlite_path is set.
func inferBackend(s *StoreConfig) {
	if s.Backend != "" || s.DSN == "" {
		return
	}
	s.Backend = BackendFromDSN(s.DSN)
	if s.Backend == BackendSQLite && s.SQLitePath == "" {
		s.SQLitePath = s.DSN
	}
}

// Default returns a config built only from environment variables and defaults.
func Default() *Config {
	var cfg Config
	ApplyEnv(&cfg, os.Getenv)
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
