// Package config loads Aura configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/aura/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AURA_"

// Load builds the configuration in layers: tier defaults, then the YAML
// file at path (skipped when path is empty), then AURA_* environment
// variables. The result is validated.
func Load(path string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	tier, err := resolveTier(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveTier picks the defaults to start from. AURA_TIER wins over the
// file's tier.
func resolveTier(data []byte) (domain.Tier, error) {
	if v := os.Getenv(EnvPrefix + "TIER"); v != "" {
		return domain.Tier(strings.ToLower(v)), nil
	}
	var head struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &head); err != nil {
			return "", err
		}
	}
	if head.Tier == "" {
		return domain.TierCommunity, nil
	}
	return head.Tier, nil
}

type override func(cfg *domain.Config, v string) error

func str(set func(*domain.Config, string)) override {
	return func(cfg *domain.Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func integer(set func(*domain.Config, int)) override {
	return func(cfg *domain.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func boolean(set func(*domain.Config, bool)) override {
	return func(cfg *domain.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

func duration(set func(*domain.Config, time.Duration)) override {
	return func(cfg *domain.Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

func float(set func(*domain.Config, float64)) override {
	return func(cfg *domain.Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(cfg, f)
		return nil
	}
}

// overrides maps environment variables (without prefix) to fields.
var overrides = map[string]override{
	"DEBUG": boolean(func(c *domain.Config, b bool) {
		if b {
			c.Logging.Level = "debug"
		}
	}),
	"LOG_LEVEL":  str(func(c *domain.Config, v string) { c.Logging.Level = v }),
	"LOG_FORMAT": str(func(c *domain.Config, v string) { c.Logging.Format = v }),
	"HOST":       str(func(c *domain.Config, v string) { c.Server.Host = v }),
	"PORT":       integer(func(c *domain.Config, n int) { c.Server.Port = n }),

	"DB_DRIVER":         str(func(c *domain.Config, v string) { c.Repository.Driver = v }),
	"SQLITE_PATH":       str(func(c *domain.Config, v string) { c.Repository.SQLitePath = v }),
	"POSTGRES_HOST":     str(func(c *domain.Config, v string) { c.Repository.PostgresHost = v }),
	"POSTGRES_PORT":     integer(func(c *domain.Config, n int) { c.Repository.PostgresPort = n }),
	"POSTGRES_USER":     str(func(c *domain.Config, v string) { c.Repository.PostgresUser = v }),
	"POSTGRES_PASSWORD": str(func(c *domain.Config, v string) { c.Repository.PostgresPassword = v }),
	"POSTGRES_DB":       str(func(c *domain.Config, v string) { c.Repository.PostgresDB = v }),
	"POSTGRES_SSLMODE":  str(func(c *domain.Config, v string) { c.Repository.PostgresSSLMode = v }),

	"CACHE_TYPE":     str(func(c *domain.Config, v string) { c.Cache.Type = v }),
	"REDIS_ADDR":     str(func(c *domain.Config, v string) { c.Cache.RedisAddr = v }),
	"REDIS_PASSWORD": str(func(c *domain.Config, v string) { c.Cache.RedisPassword = v }),

	"BUS_TYPE":   str(func(c *domain.Config, v string) { c.EventBus.Type = v }),
	"NATS_URL":   str(func(c *domain.Config, v string) { c.EventBus.NATSUrl = v }),
	"NATS_TOKEN": str(func(c *domain.Config, v string) { c.EventBus.NATSToken = v }),

	"OBJECT_STORE":            str(func(c *domain.Config, v string) { c.ObjectStore.Type = v }),
	"EXPORT_DIR":              str(func(c *domain.Config, v string) { c.ObjectStore.Dir = v }),
	"AZURE_CONTAINER":         str(func(c *domain.Config, v string) { c.ObjectStore.ContainerName = v }),
	"AZURE_CONNECTION_STRING": str(func(c *domain.Config, v string) { c.ObjectStore.ConnectionString = v }),

	"HISTORICAL_DATA": str(func(c *domain.Config, v string) { c.Rules.HistoricalDataPath = v }),
	"AMOUNT_UPPER":    float(func(c *domain.Config, f float64) { c.Rules.AmountUpper = f }),

	"SCORING_URL":      str(func(c *domain.Config, v string) { c.Scoring.InvokeURL = v }),
	"SCORING_ENDPOINT": str(func(c *domain.Config, v string) { c.Scoring.EndpointName = v }),
	"SCORING_TIMEOUT":  duration(func(c *domain.Config, d time.Duration) { c.Scoring.Timeout = d }),
	"FRAUD_THRESHOLD":  float(func(c *domain.Config, f float64) { c.Scoring.ClassificationThreshold = f }),

	"EXPLAIN_URL": str(func(c *domain.Config, v string) {
		c.Explain.URL = v
		c.Explain.Enabled = v != ""
	}),
	"EXPLAIN_API_KEY": str(func(c *domain.Config, v string) { c.Explain.APIKey = v }),

	"ASYNC_WORKER": boolean(func(c *domain.Config, b bool) { c.Worker.Enabled = b }),

	"MODELOPS_URL":   str(func(c *domain.Config, v string) { c.ModelOps.BaseURL = v }),
	"MODELOPS_TOKEN": str(func(c *domain.Config, v string) { c.ModelOps.Token = v }),

	"RETRAIN_INTERVAL":    duration(func(c *domain.Config, d time.Duration) { c.Retrain.Interval = d }),
	"RETRAIN_TIMEOUT":     duration(func(c *domain.Config, d time.Duration) { c.Retrain.Timeout = d }),
	"RETRAIN_MIN_RECORDS": integer(func(c *domain.Config, n int) { c.Retrain.MinRecords = n }),
}

func applyEnv(cfg *domain.Config, getenv func(string) string) error {
	var errs []error
	for name, apply := range overrides {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		if err := apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting in cfg.
func Validate(cfg *domain.Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro {
		add("tier must be %q or %q, got %q", domain.TierCommunity, domain.TierPro, cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port out of range: %d", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			add("repository.sqlitePath is required for sqlite")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			add("repository.postgresHost and repository.postgresDB are required for postgres")
		}
	default:
		add("repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}

	switch cfg.ObjectStore.Type {
	case "file":
		if cfg.ObjectStore.Dir == "" {
			add("objectStore.dir is required for the file store")
		}
	case "azure":
		if cfg.ObjectStore.ContainerName == "" || cfg.ObjectStore.ConnectionString == "" {
			add("objectStore.containerName and objectStore.connectionString are required for azure")
		}
	case "memory":
	default:
		add("objectStore.type must be file, azure or memory, got %q", cfg.ObjectStore.Type)
	}

	if q := cfg.Rules.V4Quantile; q <= 0 || q > 1 {
		add("rules.v4Quantile must be in (0, 1], got %v", q)
	}
	if q := cfg.Rules.V14Quantile; q < 0 || q >= 1 {
		add("rules.v14Quantile must be in [0, 1), got %v", q)
	}
	if cfg.Rules.AmountUpper <= 0 {
		add("rules.amountUpper must be positive, got %v", cfg.Rules.AmountUpper)
	}

	if cfg.Scoring.InvokeURL == "" {
		add("scoring.invokeUrl is required")
	}
	if t := cfg.Scoring.ClassificationThreshold; t <= 0 || t >= 1 {
		add("scoring.classificationThreshold must be in (0, 1), got %v", t)
	}
	if cfg.Explain.Enabled && cfg.Explain.URL == "" {
		add("explain.url is required when explanations are enabled")
	}

	if cfg.Retrain.Interval < 0 {
		add("retrain.interval must not be negative")
	}
	if cfg.Retrain.MinRecords < 1 {
		add("retrain.minRecords must be at least 1, got %d", cfg.Retrain.MinRecords)
	}

	return errors.Join(errs...)
}
