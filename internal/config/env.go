package config

import (
	"net"
	"net/url"
)

// PostgresDSN builds a connection URL from the POSTGRES_* variables, falling back to the
// local development database.
func PostgresDSN(getenv func(string) string) string {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(get("POSTGRES_USER", "dlt_user"), get("POSTGRES_PASSWORD", "dlt_password")),
		Host:   net.JoinHostPort(get("POSTGRES_HOST", "localhost"), get("POSTGRES_PORT", "5432")),
		Path:   "/" + get("POSTGRES_DATABASE", "dlt_dev"),
	}
	return u.String()
}

// ApplyEnv overrides cfg from environment variables. Values already set in the file win,
// except for secrets, which the environment always supplies when present.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("RECALL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	} else if cfg.Store.DSN == "" && hasPostgresEnv(getenv) {
		cfg.Store.DSN = PostgresDSN(getenv)
	}
	if v := getenv("RECALL_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" && cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := getenv("QDRANT_API_KEY"); v != "" {
		cfg.Store.Qdrant.APIKey = v
	}
}

func hasPostgresEnv(getenv func(string) string) bool {
	for _, k := range []string{"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DATABASE", "POSTGRES_USER", "POSTGRES_PASSWORD"} {
		if getenv(k) != "" {
			return true
		}
	}
	return false
}
