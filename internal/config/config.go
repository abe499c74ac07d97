package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store backend selectors.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendGrid     = "grid"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Grid     GridConfig     `yaml:"grid"`
	Store    StoreConfig    `yaml:"store"`
	Quota    QuotaConfig    `yaml:"quota"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// BrokerConfig holds the durable broker connection and delivery settings.
type BrokerConfig struct {
	URL            string        `yaml:"url"`
	Password       string        `yaml:"password"`
	ConsumerGroup  string        `yaml:"consumer_group"`
	ConsumerName   string        `yaml:"consumer_name"`
	BlockTimeout   time.Duration `yaml:"block_timeout"`
	ClaimIdle      time.Duration `yaml:"claim_idle"`
	MaxStreamLen   int64         `yaml:"max_stream_len"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Mode           string        `yaml:"mode"`
	Streams        StreamsConfig `yaml:"streams"`
}

// StreamsConfig names the broker streams.
type StreamsConfig struct {
	Extract    string `yaml:"extract"`
	Rag        string `yaml:"rag"`
	DeadLetter string `yaml:"dead_letter"`
}

// GridConfig holds the remote REST-table store connection settings.
type GridConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	JobsTable string        `yaml:"jobs_table"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StoreConfig selects the job-store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, postgres, grid
}

// QuotaConfig holds per-tenant profile defaults.
type QuotaConfig struct {
	RetrievalEngine  string `yaml:"retrieval_engine"`
	Model            string `yaml:"model"`
	RagQueriesPerDay int    `yaml:"rag_queries_per_day"`
	IngestDocsPerDay int    `yaml:"ingest_docs_per_day"`
	LLMTokensPerDay  int    `yaml:"llm_tokens_per_day"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	BlockTimeout    time.Duration `yaml:"block_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills documented defaults so a config file only needs to name
// what differs from them.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}

	if c.Broker.ConsumerGroup == "" {
		c.Broker.ConsumerGroup = "pipeline-workers"
	}
	if c.Broker.BlockTimeout == 0 {
		c.Broker.BlockTimeout = 5 * time.Second
	}
	if c.Broker.ClaimIdle == 0 {
		c.Broker.ClaimIdle = 5 * time.Minute
	}
	if c.Broker.MaxStreamLen == 0 {
		c.Broker.MaxStreamLen = 20000
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = 5 * time.Second
	}
	if c.Broker.Streams.Extract == "" {
		c.Broker.Streams.Extract = "streams:extract"
	}
	if c.Broker.Streams.Rag == "" {
		c.Broker.Streams.Rag = "streams:rag"
	}
	if c.Broker.Streams.DeadLetter == "" {
		c.Broker.Streams.DeadLetter = "streams:dead_letter"
	}

	if c.Grid.JobsTable == "" {
		c.Grid.JobsTable = "jobs"
	}
	if c.Grid.Timeout == 0 {
		c.Grid.Timeout = 15 * time.Second
	}

	if c.Quota.RetrievalEngine == "" {
		c.Quota.RetrievalEngine = "hybrid"
	}
	if c.Quota.Model == "" {
		c.Quota.Model = "base-chat"
	}
	if c.Quota.RagQueriesPerDay == 0 {
		c.Quota.RagQueriesPerDay = 500
	}
	if c.Quota.IngestDocsPerDay == 0 {
		c.Quota.IngestDocsPerDay = 200
	}
	if c.Quota.LLMTokensPerDay == 0 {
		c.Quota.LLMTokensPerDay = 200000
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.BlockTimeout == 0 {
		c.Worker.BlockTimeout = 5 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

// validateStore checks the persistence selection shared by both services.
func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres backend")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required for the postgres backend")
		}
	case BackendGrid:
		if c.Grid.BaseURL == "" {
			return fmt.Errorf("grid base_url is required for the grid backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	return nil
}

// ValidateAPIConfig checks if the configuration is valid for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateStore()
}

// ValidateWorkerConfig checks if the configuration is valid for the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.BlockTimeout <= 0 {
		return fmt.Errorf("worker block_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required for the worker service")
	}

	return c.validateStore()
}
