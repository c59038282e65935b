// Package config loads process configuration from the environment
// (with an optional .env file) and an optional YAML tuning file for the
// Resumable Stream Log's limits, grounded on the teacher's
// internal/config/config.go (godotenv.Load + flat struct +
// getEnvOrDefault family) and its yaml.Unmarshal-based file loading for
// ModelRouterConfig, both reduced to this module's much smaller surface
// (routing.go itself was dropped — model routing is a Non-goal, see
// DESIGN.md).
package config

import (
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/eternisai/chatcore/internal/streamlog"
)

// Config holds this process's settings.
type Config struct {
	Port string

	// Storage backend: "postgres" or "sqlite".
	StorageDriver string
	DatabaseURL   string
	SQLitePath    string

	// Logging
	LogLevel  string
	LogFormat string

	// Distributed routing (internal/distributed)
	NatsURL       string
	NatsEnabled   bool
	ResumeSubject string
	CancelSubject string
	InstanceID    string

	// Metrics (internal/metrics)
	MetricsEnabled bool
	MetricsPort    string

	// CORS
	CORSAllowedOrigins string

	// Retention cleanup schedule (robfig/cron/v3, wired in cmd/chatcored)
	CleanupCronSchedule string

	// Tuning is loaded separately from an optional YAML file because it
	// governs the Stream Log's numeric limits (§4.2/§5), which teams
	// tune per deployment without touching env vars.
	Tuning streamlog.TuningFile
}

// Load reads environment variables (after attempting to load a .env
// file, matching the teacher's "log and continue" behavior when absent)
// into a Config.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	return &Config{
		Port: getEnvOrDefault("PORT", "8080"),

		StorageDriver: getEnvOrDefault("STORAGE_DRIVER", "sqlite"),
		DatabaseURL:   getEnvOrDefault("DATABASE_URL", "postgres://localhost/chatcore?sslmode=disable"),
		SQLitePath:    getEnvOrDefault("SQLITE_PATH", "chatcore.db"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		NatsURL:       getEnvOrDefault("NATS_URL", ""),
		NatsEnabled:   getEnvOrDefault("NATS_ENABLED", "false") == "true",
		ResumeSubject: getEnvOrDefault("NATS_RESUME_SUBJECT", "chatcore.session.resume"),
		CancelSubject: getEnvOrDefault("NATS_CANCEL_SUBJECT", "chatcore.session.cancel"),
		InstanceID:    os.Getenv("INSTANCE_ID"),

		MetricsEnabled: getEnvOrDefault("METRICS_ENABLED", "true") == "true",
		MetricsPort:    getEnvOrDefault("METRICS_PORT", "9090"),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		CleanupCronSchedule: getEnvOrDefault("CLEANUP_CRON_SCHEDULE", "@every 1h"),
	}
}

// LoadTuningFile reads the optional YAML file governing Stream Log
// limits (§4.2/§5), leaving Tuning's zero value (which ToLimits()
// overlays onto streamlog.DefaultLimits()) when the file is absent.
func (c *Config) LoadTuningFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Tuning); err != nil {
		return fmt.Errorf("parse tuning file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

