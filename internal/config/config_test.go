package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aura.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity || cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected community sqlite defaults, got %s/%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Scoring.ClassificationThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.Scoring.ClassificationThreshold)
	}
	if cfg.Retrain.Timeout != 30*time.Minute || cfg.Retrain.MinRecords != 1 {
		t.Errorf("unexpected retrain defaults %+v", cfg.Retrain)
	}
	if cfg.Rules.V4Quantile != 0.999 || cfg.Rules.V14Quantile != 0.001 || cfg.Rules.AmountUpper != 25000 {
		t.Errorf("unexpected rule defaults %+v", cfg.Rules)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
scoring:
  invokeUrl: http://scoring.internal/invocations
  timeout: 2s
retrain:
  interval: 12h
  minRecords: 50
objectStore:
  type: memory
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.InvokeURL != "http://scoring.internal/invocations" || cfg.Scoring.Timeout != 2*time.Second {
		t.Errorf("unexpected scoring config %+v", cfg.Scoring)
	}
	if cfg.Retrain.Interval != 12*time.Hour || cfg.Retrain.MinRecords != 50 {
		t.Errorf("unexpected retrain config %+v", cfg.Retrain)
	}
	if cfg.ObjectStore.Type != "memory" {
		t.Errorf("expected memory object store, got %s", cfg.ObjectStore.Type)
	}
	// Untouched settings keep their defaults.
	if cfg.Repository.SQLitePath != "./aura.db" || cfg.Scoring.ClassificationThreshold != 0.5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Repository, cfg.Scoring)
	}
}

func TestLoadProTier(t *testing.T) {
	path := writeConfig(t, `
tier: pro
objectStore:
  connectionString: "DefaultEndpointsProtocol=https;AccountName=aura;AccountKey=a2V5;EndpointSuffix=core.windows.net"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" || cfg.ObjectStore.Type != "azure" {
		t.Errorf("expected pro backends, got %s/%s/%s", cfg.Repository.Driver, cfg.EventBus.Type, cfg.ObjectStore.Type)
	}
	if !cfg.Worker.Enabled || cfg.Retrain.Interval != 24*time.Hour {
		t.Errorf("expected pro worker and schedule, got %+v %+v", cfg.Worker, cfg.Retrain)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AURA_DEBUG", "true")
	t.Setenv("AURA_PORT", "7070")
	t.Setenv("AURA_EXPLAIN_URL", "http://explain.internal/explain")
	t.Setenv("AURA_RETRAIN_INTERVAL", "1h")
	t.Setenv("AURA_FRAUD_THRESHOLD", "0.7")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Logging.Level)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("environment must win over the file, got port %d", cfg.Server.Port)
	}
	if !cfg.Explain.Enabled || cfg.Explain.URL != "http://explain.internal/explain" {
		t.Errorf("unexpected explain config %+v", cfg.Explain)
	}
	if cfg.Retrain.Interval != time.Hour || cfg.Scoring.ClassificationThreshold != 0.7 {
		t.Errorf("unexpected overrides %+v %+v", cfg.Retrain, cfg.Scoring)
	}
}

func TestEnvTier(t *testing.T) {
	t.Setenv("AURA_TIER", "pro")
	t.Setenv("AURA_OBJECT_STORE", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("expected pro defaults, got %s/%s", cfg.Tier, cfg.Repository.Driver)
	}
}

func TestInvalidEnv(t *testing.T) {
	t.Setenv("AURA_PORT", "eighty")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "AURA_PORT") {
		t.Errorf("expected AURA_PORT error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"bad tier", func(c *domain.Config) { c.Tier = "enterprise" }, "tier"},
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository.driver"},
		{"threshold zero", func(c *domain.Config) { c.Scoring.ClassificationThreshold = 0 }, "classificationThreshold"},
		{"threshold one", func(c *domain.Config) { c.Scoring.ClassificationThreshold = 1 }, "classificationThreshold"},
		{"no scoring url", func(c *domain.Config) { c.Scoring.InvokeURL = "" }, "invokeUrl"},
		{"explain without url", func(c *domain.Config) { c.Explain.Enabled = true }, "explain.url"},
		{"azure without secret", func(c *domain.Config) { c.ObjectStore.Type = "azure"; c.ObjectStore.ContainerName = "x" }, "connectionString"},
		{"min records", func(c *domain.Config) { c.Retrain.MinRecords = 0 }, "minRecords"},
		{"quantile", func(c *domain.Config) { c.Rules.V4Quantile = 1.5 }, "v4Quantile"},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
