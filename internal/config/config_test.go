package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DB_DIAL_TIMEOUT", "DB_REQUIRED", "GEMINI_API_KEY", "GOOGLE_API_KEY", "GEMINI_MODEL",
		"LLM_MAX_TOKENS", "LLM_TEMPERATURE", "MASTERS_DIR", "MASTERS_GCS_PREFIX",
		"MF_CSV_EXPORT_TTL_SECONDS", "EXPORT_BUCKET", "BIGQUERY_PROJECT", "BIGQUERY_DATASET",
		"MF_API_BASE_URL", "MF_API_TOKEN", "PUBLIC_BASE_URL", "CONFIG_FILE", "API_AUTH_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Database.MaxConns != 10 || cfg.Database.MinConns != 1 || cfg.Database.DialTimeout != 5*time.Second {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.LLM.Model != "gemini-2.5-flash" || cfg.LLM.MaxTokens != 500 || cfg.LLM.Temperature != 0 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Masters.Dir != "masters" {
		t.Errorf("Masters.Dir = %q", cfg.Masters.Dir)
	}
	if cfg.Export.TTL != 15*time.Minute {
		t.Errorf("Export.TTL = %v", cfg.Export.TTL)
	}
	if cfg.Audit.Enabled() || cfg.MFAPI.Enabled() {
		t.Error("optional integrations should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_MIN_CONNS", "not-a-number")
	t.Setenv("DB_REQUIRED", "true")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("MF_CSV_EXPORT_TTL_SECONDS", "60")
	t.Setenv("PUBLIC_BASE_URL", "https://example.com/")

	cfg := FromEnv()
	if cfg.Server.Port != "9000" || cfg.Server.PublicBaseURL != "https://example.com" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Database.MaxConns != 25 || cfg.Database.MinConns != 1 || !cfg.Database.Required {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.LLM.APIKey != "google-key" {
		t.Errorf("APIKey = %q, want GOOGLE_API_KEY fallback", cfg.LLM.APIKey)
	}
	if cfg.LLM.Temperature < 0.19 || cfg.LLM.Temperature > 0.21 {
		t.Errorf("Temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Export.TTL != time.Minute {
		t.Errorf("TTL = %v", cfg.Export.TTL)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_MODEL", "from-env")
	t.Setenv("MF_API_TOKEN", "secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlText := `
server:
  port: "9090"
export:
  ttl: 10m
  bucket: archive
mf_api:
  base_url: https://mf.example.com
  token: ignored
`
	if err := os.WriteFile(path, []byte(yamlText), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Export.TTL != 10*time.Minute || cfg.Export.Bucket != "archive" {
		t.Errorf("overlay not applied: %+v %+v", cfg.Server, cfg.Export)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("Model = %q, keys absent from YAML must keep env value", cfg.LLM.Model)
	}
	if cfg.MFAPI.Token != "secret" || !cfg.MFAPI.Enabled() {
		t.Errorf("MFAPI = %+v", cfg.MFAPI)
	}
}

func TestLoad_BadOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing overlay")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "PORT"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "required db", mutate: func(c *Config) { c.Database.Required = true }, wantErr: "DATABASE_URL"},
		{name: "min over max", mutate: func(c *Config) { c.Database.MinConns = 50 }, wantErr: "DB_MIN_CONNS"},
		{name: "zero ttl", mutate: func(c *Config) { c.Export.TTL = 0 }, wantErr: "TTL"},
		{name: "bad gcs prefix", mutate: func(c *Config) { c.Masters.GCSPrefix = "bucket/masters" }, wantErr: "gs://"},
		{name: "half audit", mutate: func(c *Config) { c.Audit.Project = "p" }, wantErr: "BIGQUERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := FromEnv()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTenantAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		global  string
		tenant  string
		want    string
		wantErr error
	}{
		{
			name:   "tenant specific key wins",
			env:    map[string]string{"TENANT_API_KEY_GEMINI_ACME": "k1", "GEMINI_API_KEY_TENANT_ACME": "k2"},
			global: "global",
			tenant: "ACME",
			want:   "k1",
		},
		{
			name:   "legacy naming",
			env:    map[string]string{"GEMINI_API_KEY_TENANT_ACME": "k2"},
			global: "global",
			tenant: "ACME",
			want:   "k2",
		},
		{
			name:   "tenant id converted to env form",
			env:    map[string]string{"TENANT_API_KEY_GEMINI_ACME_CORP": "k3"},
			tenant: "acme-corp",
			want:   "k3",
		},
		{
			name:   "global fallback",
			global: "global",
			tenant: "other",
			want:   "global",
		},
		{
			name:    "nothing configured",
			tenant:  "other",
			wantErr: ErrMissingAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := &Config{LLM: LLMConfig{APIKey: tt.global}}
			got, err := cfg.TenantAPIKey(tt.tenant)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TenantAPIKey() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TenantAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvTenant(t *testing.T) {
	if got := EnvTenant("acme-corp-1"); got != "ACME_CORP_1" {
		t.Errorf("EnvTenant() = %q", got)
	}
}
