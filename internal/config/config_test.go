package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, BackendPostgres, cfg.Store.Backend)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "pipeline_db", cfg.Database.Database)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.URL)
				assert.Equal(t, "streams:extract", cfg.Broker.Streams.Extract)
				assert.Equal(t, "pipeline-api-service", cfg.App.Name)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Run("empty config gets documented defaults", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, BackendMemory, cfg.Store.Backend)
		assert.Equal(t, "pipeline-workers", cfg.Broker.ConsumerGroup)
		assert.Equal(t, 5*time.Second, cfg.Broker.BlockTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Broker.ClaimIdle)
		assert.Equal(t, int64(20000), cfg.Broker.MaxStreamLen)
		assert.Equal(t, "streams:extract", cfg.Broker.Streams.Extract)
		assert.Equal(t, "streams:rag", cfg.Broker.Streams.Rag)
		assert.Equal(t, "streams:dead_letter", cfg.Broker.Streams.DeadLetter)
		assert.Equal(t, "jobs", cfg.Grid.JobsTable)
		assert.Equal(t, 500, cfg.Quota.RagQueriesPerDay)
		assert.Equal(t, 200, cfg.Quota.IngestDocsPerDay)
		assert.Equal(t, 200000, cfg.Quota.LLMTokensPerDay)
		assert.Equal(t, 4, cfg.Worker.Concurrency)
	})

	t.Run("explicit values are preserved", func(t *testing.T) {
		cfg := &Config{}
		cfg.Broker.ConsumerGroup = "custom-group"
		cfg.Broker.ClaimIdle = time.Minute
		cfg.Quota.RagQueriesPerDay = 10
		cfg.ApplyDefaults()

		assert.Equal(t, "custom-group", cfg.Broker.ConsumerGroup)
		assert.Equal(t, time.Minute, cfg.Broker.ClaimIdle)
		assert.Equal(t, 10, cfg.Quota.RagQueriesPerDay)
	})
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantErr   bool
		errString string
	}{
		{
			name: "valid memory config",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendMemory},
			},
			wantErr: false,
		},
		{
			name: "valid postgres config",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendPostgres},
				Database: DatabaseConfig{
					Host:     "localhost",
					Port:     5432,
					Database: "pipeline_db",
				},
			},
			wantErr: false,
		},
		{
			name: "valid grid config",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendGrid},
				Grid:   GridConfig{BaseURL: "https://grid.example.com"},
			},
			wantErr: false,
		},
		{
			name: "invalid server port - too low",
			config: &Config{
				Server: ServerConfig{Port: 0},
				Store:  StoreConfig{Backend: BackendMemory},
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "invalid server port - too high",
			config: &Config{
				Server: ServerConfig{Port: 70000},
				Store:  StoreConfig{Backend: BackendMemory},
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "postgres backend without host",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendPostgres},
				Database: DatabaseConfig{
					Port:     5432,
					Database: "pipeline_db",
				},
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "postgres backend without database name",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendPostgres},
				Database: DatabaseConfig{
					Host: "localhost",
					Port: 5432,
				},
			},
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "grid backend without base url",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: BackendGrid},
			},
			wantErr:   true,
			errString: "grid base_url is required",
		},
		{
			name: "unknown backend",
			config: &Config{
				Server: ServerConfig{Port: 8080},
				Store:  StoreConfig{Backend: "cassandra"},
			},
			wantErr:   true,
			errString: "unknown store backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Store:  StoreConfig{Backend: BackendMemory},
			Broker: BrokerConfig{URL: "redis://localhost:6379/0"},
		}
		cfg.Worker = WorkerConfig{
			Concurrency:     4,
			BlockTimeout:    5 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		}
		return cfg
	}

	t.Run("valid worker config", func(t *testing.T) {
		require.NoError(t, base().ValidateWorkerConfig())
	})

	t.Run("zero concurrency", func(t *testing.T) {
		cfg := base()
		cfg.Worker.Concurrency = 0
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "concurrency must be greater than 0")
	})

	t.Run("zero block timeout", func(t *testing.T) {
		cfg := base()
		cfg.Worker.BlockTimeout = 0
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "block_timeout must be greater than 0")
	})

	t.Run("missing broker url", func(t *testing.T) {
		cfg := base()
		cfg.Broker.URL = ""
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker url is required")
	})
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
