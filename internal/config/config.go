// Package config loads process configuration from environment variables:
// provider/tier defaults, deadlines, concurrency limits, plus the ambient
// concerns (logging, tracing, vault, durable dispatch) every deployment of
// this service carries regardless of which wall-bounce features are in use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	ProvidersEnabled []string // PROVIDERS_ENABLED, csv of provider names

	// Per-tier defaults (TASK_TIER_DEFAULTS_*): min_providers and
	// confidence_threshold, keyed by tier.
	TierMinProviders        map[string]int
	TierConfidenceThreshold map[string]float64

	ApprovalTTLSeconds int
	DefaultDeadlineMS  int
	MaxConcurrent      int
	MetricsBind        string

	VaultEnabled  bool
	VaultPassword string

	CredentialsFile string
	ToolCatalogFile string

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	CORSOrigins []string

	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("WALLBOUNCE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("WALLBOUNCE_LOG_LEVEL", "info"),
		DBDSN:      getEnv("WALLBOUNCE_DB_DSN", "file:/data/wallbounce.sqlite"),

		ProvidersEnabled: getEnvStringSlice("PROVIDERS_ENABLED", nil),

		TierMinProviders: map[string]int{
			"basic": getEnvInt("TASK_TIER_DEFAULTS_BASIC_MIN_PROVIDERS", 2),
			"premium": getEnvInt("TASK_TIER_DEFAULTS_PREMIUM_MIN_PROVIDERS", 3),
			"critical": getEnvInt("TASK_TIER_DEFAULTS_CRITICAL_MIN_PROVIDERS", 4),
		},
		TierConfidenceThreshold: map[string]float64{
			"basic": getEnvFloat("TASK_TIER_DEFAULTS_BASIC_CONFIDENCE_THRESHOLD", 0.7),
			"premium": getEnvFloat("TASK_TIER_DEFAULTS_PREMIUM_CONFIDENCE_THRESHOLD", 0.8),
			"critical": getEnvFloat("TASK_TIER_DEFAULTS_CRITICAL_CONFIDENCE_THRESHOLD", 0.9),
		},

		ApprovalTTLSeconds: getEnvInt("APPROVAL_TTL_SECONDS", 1800),
		DefaultDeadlineMS:  getEnvInt("DEFAULT_DEADLINE_MS", 30000),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT_REQUESTS", 64),
		MetricsBind:        getEnv("METRICS_BIND", ":9090"),

		VaultEnabled:  getEnvBool("WALLBOUNCE_VAULT_ENABLED", true),
		VaultPassword: getEnv("WALLBOUNCE_VAULT_PASSWORD", ""),

		CredentialsFile: getEnv("WALLBOUNCE_CREDENTIALS_FILE", defaultCredentialsPath()),
		ToolCatalogFile: getEnv("WALLBOUNCE_TOOL_CATALOG_FILE", defaultDotDirPath("tools.json")),

		OTelEnabled:     getEnvBool("WALLBOUNCE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("WALLBOUNCE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("WALLBOUNCE_OTEL_SERVICE_NAME", "wallbounce"),

		CORSOrigins: getEnvStringSlice("WALLBOUNCE_CORS_ORIGINS", nil),

		TemporalEnabled:   getEnvBool("WALLBOUNCE_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("WALLBOUNCE_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("WALLBOUNCE_TEMPORAL_NAMESPACE", "wallbounce"),
		TemporalTaskQueue: getEnv("WALLBOUNCE_TEMPORAL_TASK_QUEUE", "wallbounce-tasks"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be > 0, got %d", c.MaxConcurrent)
	}
	if c.DefaultDeadlineMS <= 0 {
		return fmt.Errorf("DEFAULT_DEADLINE_MS must be > 0, got %d", c.DefaultDeadlineMS)
	}
	if c.ApprovalTTLSeconds <= 0 {
		return fmt.Errorf("APPROVAL_TTL_SECONDS must be > 0, got %d", c.ApprovalTTLSeconds)
	}
	for tier, threshold := range c.TierConfidenceThreshold {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("TASK_TIER_DEFAULTS_%s_CONFIDENCE_THRESHOLD must be in [0,1], got %f", strings.ToUpper(tier), threshold)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func defaultCredentialsPath() string {
	return defaultDotDirPath("credentials")
}

func defaultDotDirPath(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".wallbounce", name)
	}
	return ""
}
