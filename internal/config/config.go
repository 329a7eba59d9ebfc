// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML overlay named by CONFIG_FILE.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when no model API key can be resolved.
var ErrMissingAPIKey = errors.New("config: model API key is not configured")

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Masters  MastersConfig  `yaml:"masters"`
	Export   ExportConfig   `yaml:"export"`
	Audit    AuditConfig    `yaml:"audit"`
	MFAPI    MFAPIConfig    `yaml:"mf_api"`
}

// ServerConfig holds HTTP server configuration. An empty AuthToken
// disables bearer authentication.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AuthToken       string        `yaml:"-"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds database-related configuration. Required makes a
// missing or unreachable database fatal at startup.
type DatabaseConfig struct {
	DSN             string        `yaml:"-"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	Required        bool          `yaml:"required"`
}

// LLMConfig holds model configuration. The key never comes from YAML.
type LLMConfig struct {
	APIKey      string  `yaml:"-"`
	Model       string  `yaml:"model"`
	MaxTokens   int32   `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// MastersConfig locates the catalog files. GCSPrefix wins over Dir.
type MastersConfig struct {
	Dir       string `yaml:"dir"`
	GCSPrefix string `yaml:"gcs_prefix"`
}

// ExportConfig controls cached downloads and the archive bucket.
type ExportConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Bucket string        `yaml:"bucket"`
}

// AuditConfig enables the BigQuery prediction audit when both are set.
type AuditConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

// Enabled reports whether the audit sink is configured.
func (a AuditConfig) Enabled() bool {
	return a.Project != "" && a.Dataset != ""
}

// MFAPIConfig configures the MoneyForward journal API client.
type MFAPIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether the API client can be built.
func (m MFAPIConfig) Enabled() bool {
	return m.BaseURL != "" && m.Token != ""
}

// Load reads .env (if present), the environment and the CONFIG_FILE
// overlay, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}

	cfg := FromEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyYAMLFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AuthToken:       getEnv("API_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			Required:        getEnvAsBool("DB_REQUIRED", false),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			MaxTokens:   getEnvAsInt32("LLM_MAX_TOKENS", 500),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0),
		},
		Masters: MastersConfig{
			Dir:       getEnv("MASTERS_DIR", "masters"),
			GCSPrefix: getEnv("MASTERS_GCS_PREFIX", ""),
		},
		Export: ExportConfig{
			TTL:    time.Duration(getEnvAsInt("MF_CSV_EXPORT_TTL_SECONDS", 900)) * time.Second,
			Bucket: getEnv("EXPORT_BUCKET", ""),
		},
		Audit: AuditConfig{
			Project: getEnv("BIGQUERY_PROJECT", ""),
			Dataset: getEnv("BIGQUERY_DATASET", ""),
		},
		MFAPI: MFAPIConfig{
			BaseURL: strings.TrimRight(getEnv("MF_API_BASE_URL", "https://api.biz.moneyforward.com"), "/"),
			Token:   getEnv("MF_API_TOKEN", ""),
			Timeout: getEnvAsDuration("MF_API_TIMEOUT", 30*time.Second),
		},
	}
}

// ApplyYAMLFile overlays the values present in the YAML file at path.
// Keys missing from the file keep their current value.
func (c *Config) ApplyYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ApplyYAMLFile: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("ApplyYAMLFile: parsing %s: %w", path, err)
	}
	return nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("config: PORT is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be console or json, got %q", c.Log.Format)
	}
	if c.Database.Required && c.Database.DSN == "" {
		return errors.New("config: DATABASE_URL is required when DB_REQUIRED is set")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("config: DB_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("config: DB_MIN_CONNS must be between 0 and %d, got %d", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Export.TTL <= 0 {
		return errors.New("config: MF_CSV_EXPORT_TTL_SECONDS must be positive")
	}
	if c.Masters.GCSPrefix != "" && !strings.HasPrefix(c.Masters.GCSPrefix, "gs://") {
		return fmt.Errorf("config: MASTERS_GCS_PREFIX must start with gs://, got %q", c.Masters.GCSPrefix)
	}
	if (c.Audit.Project == "") != (c.Audit.Dataset == "") {
		return errors.New("config: BIGQUERY_PROJECT and BIGQUERY_DATASET must be set together")
	}
	return nil
}

// TenantAPIKey resolves the model key for a tenant:
// TENANT_API_KEY_GEMINI_<T>, then GEMINI_API_KEY_TENANT_<T>, then the
// global key. <T> is tried verbatim and in its environment form.
func (c *Config) TenantAPIKey(tenantID string) (string, error) {
	if tenantID != "" {
		for _, suffix := range tenantSuffixes(tenantID) {
			for _, prefix := range []string{"TENANT_API_KEY_GEMINI_", "GEMINI_API_KEY_TENANT_"} {
				if key := os.Getenv(prefix + suffix); key != "" {
					return key, nil
				}
			}
		}
	}
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey, nil
	}
	return "", ErrMissingAPIKey
}

// EnvTenant converts a tenant id to its environment-variable form.
func EnvTenant(tenantID string) string {
	return strings.ToUpper(strings.ReplaceAll(tenantID, "-", "_"))
}

func tenantSuffixes(tenantID string) []string {
	env := EnvTenant(tenantID)
	if env == tenantID {
		return []string{tenantID}
	}
	return []string{tenantID, env}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
