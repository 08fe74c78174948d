package config

import (
	"fmt"
	"os"
)

type Config struct {
	DatabaseURL     string
	NATSURL         string
	TemporalAddress string
	// SecretKey is the process-wide secret used to derive credential
	// encryption keys. Rotating it makes previously stored credentials
	// undecryptable, so treat it like a root key.
	SecretKey     string
	MetricsAddr   string
	LogLevel      string
	ServiceName   string
	MigrationsDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		TemporalAddress: getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		SecretKey:       getEnv("SECRET_KEY", ""),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9091"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServiceName:     getEnv("SERVICE_NAME", "backupd"),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", ""),
	}

	return cfg, nil
}

// Validate checks that the config carries everything the given role needs.
func (c *Config) Validate(role string) error {
	switch role {
	case "worker":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.SecretKey == "" {
			return fmt.Errorf("SECRET_KEY is required")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
