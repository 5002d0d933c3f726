package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// PlaceholderPepper is shipped in example env files and must never reach a
// running deployment.
const PlaceholderPepper = "not-use-default"

// Ledger backends.
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds process configuration.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL   string `env:"DATABASE_URL"`
	DataDir       string `env:"DATA_DIR" envDefault:"data"`
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"sql"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Pepper             string `env:"ALIAS_PEPPER"`
	WORMPrivateKey     string `env:"WORM_PRIVATE_KEY"`
	WORMPrivateKeyFile string `env:"WORM_PRIVATE_KEY_FILE"`
	WORMVersion        string `env:"WORM_VERSION" envDefault:"1.0"`
	WORMIssuer         string `env:"WORM_ISSUER" envDefault:"Alias Chile"`

	AppendMaxAttempts int           `env:"APPEND_MAX_ATTEMPTS" envDefault:"5"`
	AppendBaseDelay   time.Duration `env:"APPEND_BASE_DELAY" envDefault:"10ms"`
	AppendMaxDelay    time.Duration `env:"APPEND_MAX_DELAY" envDefault:"500ms"`

	InteropRPS   float64 `env:"INTEROP_RPS" envDefault:"0"`
	InteropBurst int     `env:"INTEROP_BURST" envDefault:"20"`

	RoutingTablePath string        `env:"ROUTING_TABLE_PATH"`
	HealthAddr       string        `env:"HEALTH_ADDR" envDefault:":8081"`
	EvidenceInterval time.Duration `env:"EVIDENCE_INTERVAL" envDefault:"1h"`
	EvidenceTenant   string        `env:"EVIDENCE_TENANT"`

	OTELEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELInsecure bool   `env:"OTEL_INSECURE" envDefault:"false"`
}

// Load parses configuration from environment variables. It does not check
// the secrets; call Validate before constructing signing or hashing
// components.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing secret as a *ConfigurationError.
func (c *Config) Validate() error {
	if err := ValidatePepper(c.Pepper); err != nil {
		return err
	}
	if _, err := c.PrivateKeyPEM(); err != nil {
		return err
	}
	if c.AppendMaxAttempts < 1 {
		return &ConfigurationError{Setting: "APPEND_MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	switch c.LedgerBackend {
	case BackendSQL, BackendRedis, BackendMemory:
	default:
		return &ConfigurationError{Setting: "LEDGER_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.LedgerBackend)}
	}
	return nil
}

// ValidatePepper rejects empty and placeholder peppers.
func ValidatePepper(pepper string) error {
	switch strings.TrimSpace(pepper) {
	case "":
		return Missing("ALIAS_PEPPER")
	case PlaceholderPepper:
		return &ConfigurationError{Setting: "ALIAS_PEPPER", Reason: "placeholder value"}
	}
	return nil
}

// PrivateKeyPEM returns the evidence signing key, read inline from
// WORM_PRIVATE_KEY or from the file named by WORM_PRIVATE_KEY_FILE.
func (c *Config) PrivateKeyPEM() (string, error) {
	if strings.TrimSpace(c.WORMPrivateKey) != "" {
		// Env files often carry the PEM with escaped newlines.
		return strings.ReplaceAll(c.WORMPrivateKey, `\n`, "\n"), nil
	}
	if c.WORMPrivateKeyFile == "" {
		return "", Missing("WORM_PRIVATE_KEY")
	}
	data, err := os.ReadFile(c.WORMPrivateKeyFile)
	if err != nil {
		return "", &ConfigurationError{Setting: "WORM_PRIVATE_KEY_FILE", Reason: err.Error()}
	}
	return string(data), nil
}

// LiteMode reports whether the process runs on the embedded SQLite store.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}
