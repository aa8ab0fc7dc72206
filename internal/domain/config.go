package domain

import "time"

// Config holds the complete Aura configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier determines which backends are used by default
	Tier Tier `yaml:"tier" json:"tier"`

	// Component configurations
	Repository  RepositoryConfig  `yaml:"repository" json:"repository"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	EventBus    EventBusConfig    `yaml:"eventBus" json:"eventBus"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore" json:"objectStore"`

	// Decision pipeline
	Rules   RulesConfig   `yaml:"rules" json:"rules"`
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`
	Explain ExplainConfig `yaml:"explain" json:"explain"`
	Worker  WorkerConfig  `yaml:"worker" json:"worker"`

	// Retraining
	ModelOps ModelOpsConfig `yaml:"modelOps" json:"modelOps"`
	Retrain  RetrainConfig  `yaml:"retrain" json:"retrain"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// RulesConfig controls how the rule threshold set is derived.
type RulesConfig struct {
	// HistoricalDataPath is a CSV with V4 and V14 columns. When empty the
	// fallback thresholds are used.
	HistoricalDataPath string  `yaml:"historicalDataPath" json:"historicalDataPath"`
	V4Quantile         float64 `yaml:"v4Quantile" json:"v4Quantile"`
	V14Quantile        float64 `yaml:"v14Quantile" json:"v14Quantile"`

	// AmountUpper is the fixed business ceiling on Amount.
	AmountUpper float64 `yaml:"amountUpper" json:"amountUpper"`

	FallbackV4Upper  float64 `yaml:"fallbackV4Upper" json:"fallbackV4Upper"`
	FallbackV14Lower float64 `yaml:"fallbackV14Lower" json:"fallbackV14Lower"`
}

// ScoringConfig configures the model endpoint client.
type ScoringConfig struct {
	// EndpointName and InvokeURL describe the model served at startup when
	// no promoted model is recorded in the repository.
	EndpointName string        `yaml:"endpointName" json:"endpointName"`
	InvokeURL    string        `yaml:"invokeUrl" json:"invokeUrl"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`

	// ClassificationThreshold: score > threshold is fraud.
	ClassificationThreshold float64 `yaml:"classificationThreshold" json:"classificationThreshold"`
}

// ExplainConfig configures the optional explanation generator.
type ExplainConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	URL     string        `yaml:"url" json:"url"`
	APIKey  string        `yaml:"apiKey" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// WorkerConfig controls the async decision worker.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ObjectStoreConfig configures where export batches are written.
type ObjectStoreConfig struct {
	// Type is "file", "azure" or "memory"
	Type string `yaml:"type" json:"type"`

	// File store
	Dir string `yaml:"dir" json:"dir"`

	// Azure Blob Storage
	ContainerName    string `yaml:"containerName" json:"containerName"`
	ConnectionString string `yaml:"connectionString" json:"-"`

	// Key prefixes for training input and training output.
	TrainingPrefix string `yaml:"trainingPrefix" json:"trainingPrefix"`
	OutputPrefix   string `yaml:"outputPrefix" json:"outputPrefix"`
}

// ModelOpsConfig configures the training and model-registry control plane.
type ModelOpsConfig struct {
	BaseURL         string        `yaml:"baseUrl" json:"baseUrl"`
	Token           string        `yaml:"token" json:"-"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
	PollInterval    time.Duration `yaml:"pollInterval" json:"pollInterval"`
	MaxPollInterval time.Duration `yaml:"maxPollInterval" json:"maxPollInterval"`
}

// RetrainConfig controls the retraining orchestrator.
type RetrainConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Timeout bounds a whole run.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MinRecords is the record-count gate between Export and Train.
	MinRecords int `yaml:"minRecords" json:"minRecords"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ServiceName  string `yaml:"serviceName" json:"serviceName"`
	ExporterType string `yaml:"exporterType" json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and local files
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS, Redis and Azure Blob Storage
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./aura.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			DecisionTTL:  10 * time.Minute,
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		ObjectStore: ObjectStoreConfig{
			Type:           "file",
			Dir:            "./data/exports",
			TrainingPrefix: "training-data/",
			OutputPrefix:   "training-output/",
		},
		Rules: RulesConfig{
			V4Quantile:       0.999,
			V14Quantile:      0.001,
			AmountUpper:      25000,
			FallbackV4Upper:  11.0,
			FallbackV14Lower: -13.5,
		},
		Scoring: ScoringConfig{
			EndpointName:            "fraud-detection-endpoint",
			InvokeURL:               "http://localhost:8081/invocations",
			Timeout:                 5 * time.Second,
			ClassificationThreshold: 0.5,
		},
		Explain: ExplainConfig{
			Enabled: false,
			Timeout: 3 * time.Second,
		},
		ModelOps: ModelOpsConfig{
			BaseURL:         "http://localhost:8082",
			RequestTimeout:  30 * time.Second,
			PollInterval:    10 * time.Second,
			MaxPollInterval: time.Minute,
		},
		Retrain: RetrainConfig{
			Interval:   0,
			Timeout:    30 * time.Minute,
			MinRecords: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "aura",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "aura",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		DecisionTTL:    10 * time.Minute,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.ObjectStore.Type = "azure"
	cfg.ObjectStore.ContainerName = "aura-training"
	cfg.Worker.Enabled = true
	cfg.Retrain.Interval = 24 * time.Hour
	cfg.Tracing.Enabled = true
	return cfg
}
