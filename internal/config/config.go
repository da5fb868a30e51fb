package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	DatabaseURL     string // empty selects the in-memory stores
	WorkflowTimeout time.Duration
	SweepInterval   time.Duration
	RulesCacheTTL   time.Duration
	StatsCacheTTL   time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
	ArchiveBucket   string
	ArchivePrefix   string
	EventBuffer     int
	SignerID        string
	SignerKeyB64    string
	ShutdownTimeout time.Duration
}

const (
	defaultAddr            = ":8080"
	defaultWorkflowTimeout = 72 * time.Hour
	defaultSweepInterval   = 5 * time.Minute
	defaultStatsCacheTTL   = 5 * time.Minute
	defaultKafkaTopic      = "torquesign.events"
	defaultArchivePrefix   = "torquesign"
	defaultEventBuffer     = 256
	defaultSignerID        = "torquesign-dev"
	defaultShutdownTimeout = 30 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            firstNonEmpty(os.Getenv("TORQUESIGN_ADDR"), os.Getenv("PORT_ADDR"), defaultAddr),
		DatabaseURL:     DatabaseURL(),
		WorkflowTimeout: getDuration("WORKFLOW_TIMEOUT", defaultWorkflowTimeout),
		SweepInterval:   getDuration("SWEEP_INTERVAL", defaultSweepInterval),
		RulesCacheTTL:   getDuration("RULES_CACHE_TTL", 0),
		StatsCacheTTL:   getDuration("STATS_CACHE_TTL", defaultStatsCacheTTL),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix:   getEnv("ARCHIVE_PREFIX", defaultArchivePrefix),
		EventBuffer:     getInt("EVENT_BUFFER", defaultEventBuffer),
		SignerID:        getEnv("SIGNER_ID", defaultSignerID),
		SignerKeyB64:    os.Getenv("SIGNER_KEY_B64"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
	if cfg.WorkflowTimeout <= 0 {
		return Config{}, fmt.Errorf("WORKFLOW_TIMEOUT must be positive, got %s", cfg.WorkflowTimeout)
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.EventBuffer < 1 {
		return Config{}, fmt.Errorf("EVENT_BUFFER must be at least 1, got %d", cfg.EventBuffer)
	}
	if os.Getenv("NODE_ENV") == "production" && cfg.SignerKeyB64 == "" {
		return Config{}, fmt.Errorf("SIGNER_KEY_B64 required in production")
	}
	return cfg, nil
}

// DatabaseURL reads TORQUESIGN_DATABASE_URL, falling back to DATABASE_URL
func DatabaseURL() string {
	return firstNonEmpty(os.Getenv("TORQUESIGN_DATABASE_URL"), os.Getenv("DATABASE_URL"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// splitList parses a comma separated list, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
