package config

import (
	"os"
	"strings"
)

// ApplyEnv overrides file settings from the process environment.
func ApplyEnv(cfg *Config) {
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := lookup("API_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.Storage.Enabled = true
		cfg.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		} else {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		cfg.Cache.Enabled = true
		cfg.Cache.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		cfg.Cache.Password = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		brokers := splitList(v)
		cfg.Ingest.Kafka.Brokers = brokers
		cfg.Timeline.Publish.Brokers = brokers
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
