package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	MQTTBrokerURL  string
	MQTTClientID   string
	LogLevel       string
	IngestRetained bool
	TopicPrefix    string
	NotifierURL    string
	StoreTimeout   time.Duration
	OfflineAfter   time.Duration
	SweepSchedule  string
	Postgres       DBConfig
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("MONITORING_SERVICE_PORT", "8094"),
		MQTTBrokerURL:  strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
		MQTTClientID:   getEnv("MONITORING_SERVICE_MQTT_CLIENT_ID", "monitoring-service"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		IngestRetained: parseBool(getEnv("MONITORING_INGEST_RETAINED", "false")),
		TopicPrefix:    getEnv("MONITORING_TELEMETRY_PREFIX", "farm/telemetry/"),
		NotifierURL:    strings.TrimSpace(os.Getenv("NOTIFIER_URL")),
		StoreTimeout:   parseDuration(getEnv("MONITORING_STORE_TIMEOUT", "5s"), 5*time.Second),
		OfflineAfter:   parseDuration(getEnv("MONITORING_OFFLINE_AFTER", "10m"), 10*time.Minute),
		SweepSchedule:  getEnv("MONITORING_SWEEP_SCHEDULE", "@every 1m"),
		Postgres: DBConfig{
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
	}

	slog.Info("monitoring-service config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "topic_prefix", cfg.TopicPrefix)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseDuration(val string, def time.Duration) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	// Accept bare seconds too; devices configs in the field often use them.
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
