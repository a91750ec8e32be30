package config

import (
	"path/filepath"
	"time"

	"github.com/hyperjump/recall/internal/models"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = int(2 * cfg.Server.RateLimit.RequestsPerSecond)
	}

	inferBackend(&cfg.Store)
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendPostgres
	}
	if cfg.Store.DSN == "" && cfg.Store.Backend == BackendPostgres {
		cfg.Store.DSN = PostgresDSN(func(string) string { return "" })
	}
	if cfg.Store.Schema == "" {
		cfg.Store.Schema = "dlt_dev"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "conversations"
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 10
	}
	if cfg.Store.ConnectTimeout == 0 {
		cfg.Store.ConnectTimeout = 10 * time.Second
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "/usr/local/var/recall/data/messages.db"
	}
	if cfg.Store.Qdrant.Host == "" {
		cfg.Store.Qdrant.Host = "localhost"
	}
	if cfg.Store.Qdrant.Port == 0 {
		cfg.Store.Qdrant.Port = 6334
	}
	if cfg.Store.Qdrant.Collection == "" {
		cfg.Store.Qdrant.Collection = cfg.Store.Table
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/recall/data/models/all-MiniLM-L6-v2/model.onnx"
	}
	if cfg.Embedding.VocabPath == "" && cfg.Embedding.Provider == ProviderONNX {
		cfg.Embedding.VocabPath = filepath.Join(filepath.Dir(cfg.Embedding.ModelPath), "vocab.txt")
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "last_hidden_state"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.DefaultMetric == "" {
		cfg.Search.DefaultMetric = "cosine"
	}
	if cfg.Search.Roles == nil {
		cfg.Search.Roles = []string{"user", "assistant", "system", "tool", models.RoleUnknown}
	}
	if cfg.Search.RetryBackoff == 0 {
		cfg.Search.RetryBackoff = 200 * time.Millisecond
	}

	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".json", ".jsonl", ".ndjson"}
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Ingest.WatchDirectories) > 0 && cfg.Ingest.Recursive == nil {
		t := true
		cfg.Ingest.Recursive = &t
	}
}
