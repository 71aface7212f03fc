package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the face-pay core.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string

	GatewayBaseURL     string
	GatewayAPIKey      string
	GatewayCallbackURL string

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool

	BcryptCost       int
	TerminalTokenTTL time.Duration

	Currency             string
	ConfidenceThreshold  float64
	FailedMatchThreshold int
	LockoutDuration      time.Duration
	SessionIdleTimeout   time.Duration

	SubmitMaxAttempts    int
	SubmitBackoffBase    time.Duration
	ConfirmationTimeout  time.Duration
	ReconcileMaxAttempts int

	HighValueThreshold    int64
	SweepWindow           time.Duration
	SweepFailureThreshold int

	MaxDBConns           int32
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxClaimTTL       time.Duration
	OutboxMaxRetries     int
	ReconcileInterval    time.Duration
	SessionSweepInterval time.Duration

	CatalogConsumerGroup string
	CatalogTopics        []string
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Gateway struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		CallbackURL string `yaml:"callback_url"`
	} `yaml:"gateway"`
	Verification struct {
		ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
		FailedMatchThreshold int     `yaml:"failed_match_threshold"`
		LockoutSeconds       int     `yaml:"lockout_seconds"`
	} `yaml:"verification"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:             "FacePay-Core",
		HTTPPort:              8080,
		GRPCPort:              9090,
		JWTKeyID:              "facepay-terminal-key-1",
		AllowEphemeralJWT:     true,
		BcryptCost:            12,
		TerminalTokenTTL:      12 * time.Hour,
		Currency:              "KES",
		ConfidenceThreshold:   0.95,
		FailedMatchThreshold:  3,
		LockoutDuration:       1800 * time.Second,
		SessionIdleTimeout:    30 * time.Minute,
		SubmitMaxAttempts:     3,
		SubmitBackoffBase:     500 * time.Millisecond,
		ConfirmationTimeout:   5 * time.Minute,
		ReconcileMaxAttempts:  5,
		HighValueThreshold:    1_000_000,
		SweepWindow:           10 * time.Minute,
		SweepFailureThreshold: 10,
		MaxDBConns:            20,
		OutboxPollInterval:    2 * time.Second,
		OutboxBatchSize:       100,
		OutboxClaimTTL:        30 * time.Second,
		OutboxMaxRetries:      5,
		ReconcileInterval:     30 * time.Second,
		SessionSweepInterval:  time.Minute,
		CatalogConsumerGroup:  "facepay-core-catalog",
		CatalogTopics:         []string{"merchandising.catalog.updated"},
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Gateway.BaseURL != "" {
			cfg.GatewayBaseURL = f.Gateway.BaseURL
		}
		if f.Gateway.APIKey != "" {
			cfg.GatewayAPIKey = f.Gateway.APIKey
		}
		if f.Gateway.CallbackURL != "" {
			cfg.GatewayCallbackURL = f.Gateway.CallbackURL
		}
		if f.Verification.ConfidenceThreshold > 0 {
			cfg.ConfidenceThreshold = f.Verification.ConfidenceThreshold
		}
		if f.Verification.FailedMatchThreshold > 0 {
			cfg.FailedMatchThreshold = f.Verification.FailedMatchThreshold
		}
		if f.Verification.LockoutSeconds > 0 {
			cfg.LockoutDuration = time.Duration(f.Verification.LockoutSeconds) * time.Second
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.GatewayBaseURL = envOrDefault("GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewayAPIKey = envOrDefault("GATEWAY_API_KEY", cfg.GatewayAPIKey)
	cfg.GatewayCallbackURL = envOrDefault("GATEWAY_CALLBACK_URL", cfg.GatewayCallbackURL)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.Currency = envOrDefault("SETTLEMENT_CURRENCY", cfg.Currency)
	cfg.CatalogConsumerGroup = envOrDefault("CATALOG_CONSUMER_GROUP", cfg.CatalogConsumerGroup)
	cfg.CatalogTopics = envCSV("CATALOG_TOPICS", cfg.CatalogTopics)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.ConfidenceThreshold = envFloat("CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	cfg.FailedMatchThreshold = envInt("FAILED_MATCH_THRESHOLD", cfg.FailedMatchThreshold)
	cfg.SubmitMaxAttempts = envInt("SUBMIT_MAX_ATTEMPTS", cfg.SubmitMaxAttempts)
	cfg.ReconcileMaxAttempts = envInt("RECONCILE_MAX_ATTEMPTS", cfg.ReconcileMaxAttempts)
	cfg.HighValueThreshold = int64(envInt("HIGH_VALUE_THRESHOLD", int(cfg.HighValueThreshold)))
	cfg.SweepFailureThreshold = envInt("SWEEP_FAILURE_THRESHOLD", cfg.SweepFailureThreshold)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.TerminalTokenTTL = time.Duration(envInt("TERMINAL_TOKEN_TTL_MINUTES", int(cfg.TerminalTokenTTL.Minutes()))) * time.Minute
	cfg.LockoutDuration = time.Duration(envInt("LOCKOUT_SECONDS", int(cfg.LockoutDuration.Seconds()))) * time.Second
	cfg.SessionIdleTimeout = time.Duration(envInt("SESSION_IDLE_TIMEOUT_SECONDS", int(cfg.SessionIdleTimeout.Seconds()))) * time.Second
	cfg.SubmitBackoffBase = time.Duration(envInt("SUBMIT_BACKOFF_BASE_MS", int(cfg.SubmitBackoffBase.Milliseconds()))) * time.Millisecond
	cfg.ConfirmationTimeout = time.Duration(envInt("CONFIRMATION_TIMEOUT_SECONDS", int(cfg.ConfirmationTimeout.Seconds()))) * time.Second
	cfg.SweepWindow = time.Duration(envInt("SWEEP_WINDOW_SECONDS", int(cfg.SweepWindow.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.ReconcileInterval = time.Duration(envInt("RECONCILE_INTERVAL_SECONDS", int(cfg.ReconcileInterval.Seconds()))) * time.Second
	cfg.SessionSweepInterval = time.Duration(envInt("SESSION_SWEEP_INTERVAL_SECONDS", int(cfg.SessionSweepInterval.Seconds()))) * time.Second

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if cfg.GatewayBaseURL == "" {
		return Config{}, fmt.Errorf("missing GATEWAY_BASE_URL")
	}
	if (cfg.JWTPrivateKeyPEM == "" || cfg.JWTPublicKeyPEM == "") && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1]")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envFloat parses float env vars with safe fallback on empty/invalid values.
func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
