// Package config provides configuration loading for vectord.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Every section carries ApplyDefaults and Validate so partial
// configs are always usable.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete vectord configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Index      IndexConfig      `koanf:"index"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Completion CompletionConfig `koanf:"completion"`
	Chat       ChatConfig       `koanf:"chat"`
	Events     EventsConfig     `koanf:"events"`
	Sync       SyncConfig       `koanf:"sync"`
	Migration  MigrationConfig  `koanf:"migration"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Admin      AdminConfig      `koanf:"admin"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	Fields map[string]string `koanf:"fields"`
}

// TelemetryConfig holds OpenTelemetry trace export configuration.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	ServiceName     string   `koanf:"service_name"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	// Provider is "chromem" (embedded) or "qdrant" (external gRPC).
	Provider string `koanf:"provider"`

	// VectorSize is the embedding dimension every record must carry.
	// Must match the embedding model's output dimension.
	VectorSize int `koanf:"vector_size"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC index.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingConfig configures the embedding API client.
type EmbeddingConfig struct {
	// Provider is "openai" (direct HTTP) or "langchain" (langchaingo embedder).
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
}

// CompletionConfig configures the chat-completion API client.
type CompletionConfig struct {
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Timeout     Duration `koanf:"timeout"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
}

// ChatConfig configures the canonical chat store client.
type ChatConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// EventsConfig configures the NATS subscription to chat mutations.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	// MaxAttempts bounds retries for a single record (embed or upsert).
	MaxAttempts int `koanf:"max_attempts"`

	// BaseBackoff is the first retry delay; doubled per attempt.
	BaseBackoff Duration `koanf:"base_backoff"`

	// FanOutScanLimit caps how many records are scanned per namespace
	// during a profile fan-out.
	FanOutScanLimit int `koanf:"fan_out_scan_limit"`
}

// MigrationConfig tunes the batch jobs.
type MigrationConfig struct {
	// RatePerSecond limits external calls issued by migration jobs.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`

	// AgentHistoryLimit is how many historical messages feed the
	// synthesized agent profile for a legacy user.
	AgentHistoryLimit int `koanf:"agent_history_limit"`
}

// RetrievalConfig tunes the context retriever.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`
}

// AdminConfig gates destructive endpoints.
type AdminConfig struct {
	// Token must be presented in X-Admin-Token for /migrate, /ai-agent/migrate
	// and /vectordb/reset. Empty token disables those endpoints entirely.
	Token Secret `koanf:"token"`
}

// NewDefaultConfig returns a Config with production-ready defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Fields == nil {
		c.Logging.Fields = map[string]string{"service": "vectord"}
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "vectord"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Telemetry.ShutdownTimeout == 0 {
		c.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
	if c.Index.Provider == "" {
		c.Index.Provider = "chromem"
	}
	if c.Index.VectorSize == 0 {
		c.Index.VectorSize = 1536
	}
	if c.Index.Qdrant.Host == "" {
		c.Index.Qdrant.Host = "localhost"
	}
	if c.Index.Qdrant.Port == 0 {
		c.Index.Qdrant.Port = 6334
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "https://api.openai.com"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-ada-002"
	}
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = "https://api.openai.com"
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "gpt-4o-mini"
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = Duration(30 * time.Second)
	}
	if c.Completion.MaxTokens == 0 {
		c.Completion.MaxTokens = 512
	}
	if c.Events.URL == "" {
		c.Events.URL = "nats://localhost:4222"
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.BaseBackoff == 0 {
		c.Sync.BaseBackoff = Duration(200 * time.Millisecond)
	}
	if c.Sync.FanOutScanLimit == 0 {
		c.Sync.FanOutScanLimit = 1000
	}
	if c.Migration.RatePerSecond == 0 {
		c.Migration.RatePerSecond = 5
	}
	if c.Migration.Burst == 0 {
		c.Migration.Burst = 1
	}
	if c.Migration.AgentHistoryLimit == 0 {
		c.Migration.AgentHistoryLimit = 50
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 8
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.Index.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown index provider %q", c.Index.Provider)
	}
	if c.Index.VectorSize <= 0 {
		return fmt.Errorf("index vector size must be positive, got %d", c.Index.VectorSize)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync max attempts must be >= 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Migration.RatePerSecond <= 0 {
		return errors.New("migration rate must be positive")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	return nil
}
