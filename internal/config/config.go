// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Engine modes.
const (
	EngineModeGRPC   = "grpc"
	EngineModeDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	UsersDBPath string
	FlowsFile   string // optional YAML override of the built-in dialogue flows
	AdminIDs    []int64

	Catalog  CatalogConfig
	Engine   EngineConfig
	Wizard   WizardConfig
	Retry    RetryConfig
	Timeout  TimeoutConfig
	Frontend string
}

// CatalogConfig locates the per-backend catalog databases.
type CatalogConfig struct {
	PrimaryDB   string
	SecondaryDB string
	CacheTTL    time.Duration
}

// EngineConfig selects how document engines are reached.
type EngineConfig struct {
	Mode           string // grpc: dial fixed addresses; docker: launch one container per backend
	PrimaryAddr    string
	SecondaryAddr  string
	PrimaryImage   string
	SecondaryImage string
	Network        string
	ConnectTimeout time.Duration
}

// WizardConfig tunes the dialogue.
type WizardConfig struct {
	DefaultVariant    string
	GenerationTimeout time.Duration
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	AsyncFinalize     bool
}

// RetryConfig holds retry configuration for SQLite writes.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds HTTP server timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Read        time.Duration
	Idle        time.Duration
	Shutdown    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	adminIDs, err := parseIDs(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: ADMIN_IDS: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		UsersDBPath: getEnv("USERS_DB_PATH", "./data/users.db"),
		FlowsFile:   getEnv("FLOWS_FILE", ""),
		AdminIDs:    adminIDs,
		Frontend:    getEnv("FRONTEND_URL", ""),
		Catalog: CatalogConfig{
			PrimaryDB:   getEnv("PRIMARY_CATALOG_DB", "./data/catalog_primary.db"),
			SecondaryDB: getEnv("SECONDARY_CATALOG_DB", "./data/catalog_secondary.db"),
			CacheTTL:    getEnvDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Engine: EngineConfig{
			Mode:           strings.ToLower(getEnv("ENGINE_MODE", EngineModeGRPC)),
			PrimaryAddr:    getEnv("PRIMARY_ENGINE_ADDR", "localhost:50051"),
			SecondaryAddr:  getEnv("SECONDARY_ENGINE_ADDR", "localhost:50052"),
			PrimaryImage:   getEnv("PRIMARY_ENGINE_IMAGE", "docgen-primary:latest"),
			SecondaryImage: getEnv("SECONDARY_ENGINE_IMAGE", "docgen-secondary:latest"),
			Network:        getEnv("ENGINE_NETWORK", "docgen-net"),
			ConnectTimeout: getEnvDuration("ENGINE_CONNECT_TIMEOUT", 10*time.Second),
		},
		Wizard: WizardConfig{
			DefaultVariant:    getEnv("DEFAULT_VARIANT", "extended"),
			GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 5*time.Minute),
			SessionTTL:        getEnvDuration("SESSION_TTL", 60*time.Minute),
			SweepInterval:     getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			AsyncFinalize:     getEnvBool("ASYNC_FINALIZE", false),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Read:        getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			Idle:        getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.UsersDBPath == "" {
		return fmt.Errorf("USERS_DB_PATH cannot be empty")
	}
	if c.Catalog.PrimaryDB == "" || c.Catalog.SecondaryDB == "" {
		return fmt.Errorf("PRIMARY_CATALOG_DB and SECONDARY_CATALOG_DB cannot be empty")
	}

	switch c.Engine.Mode {
	case EngineModeGRPC:
		if c.Engine.PrimaryAddr == "" || c.Engine.SecondaryAddr == "" {
			return fmt.Errorf("PRIMARY_ENGINE_ADDR and SECONDARY_ENGINE_ADDR are required in grpc mode")
		}
	case EngineModeDocker:
		if c.Engine.PrimaryImage == "" || c.Engine.SecondaryImage == "" {
			return fmt.Errorf("PRIMARY_ENGINE_IMAGE and SECONDARY_ENGINE_IMAGE are required in docker mode")
		}
		if c.Engine.Network == "" {
			return fmt.Errorf("ENGINE_NETWORK cannot be empty in docker mode")
		}
	default:
		return fmt.Errorf("ENGINE_MODE must be %q or %q, got %q", EngineModeGRPC, EngineModeDocker, c.Engine.Mode)
	}

	switch c.Wizard.DefaultVariant {
	case "classic", "extended":
	default:
		return fmt.Errorf("DEFAULT_VARIANT must be classic or extended, got %q", c.Wizard.DefaultVariant)
	}
	if c.Wizard.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Wizard.SessionTTL <= 0 || c.Wizard.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Frontend == "" ||
		strings.Contains(c.Frontend, "localhost") ||
		strings.Contains(c.Frontend, "127.0.0.1")
}

// AllowedOrigins lists the origins allowed to call the API cross-origin.
func (c *Config) AllowedOrigins() []string {
	if c.Frontend == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.Frontend, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not a user id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
