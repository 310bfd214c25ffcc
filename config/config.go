// Package config loads service configuration from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string        `env:"APP_NAME" env-default:"clover-api"`
	Port               int           `env:"PORT" env-default:"3004"`
	LogLevel           string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool          `env:"PRETTY_LOGS" env-default:"false"`
	ShutdownTimeout    time.Duration `env:"HTTP_SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	StartupMaxAttempts int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// memory keeps everything in process; postgres is the production backend
	StoreBackend string `env:"STORE_BACKEND" env-default:"postgres"`

	// Source tables and seed rules
	SourcesFile string `env:"SOURCES_FILE" env-default:"config/sources.yaml"`
	RulesFile   string `env:"RULES_FILE" env-default:""`

	// PostgreSQL
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  int           `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Merge locking: memory or redis
	LockBackend     string        `env:"LOCK_BACKEND" env-default:"memory"`
	MergeLockMode   string        `env:"MERGE_LOCK_MODE" env-default:"wait"`
	MergeLockWait   time.Duration `env:"MERGE_LOCK_TIMEOUT" env-default:"5s"`
	MergeLockTTL    time.Duration `env:"MERGE_LOCK_TTL" env-default:"30s"`
	RedisAddr       string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB         int           `env:"REDIS_DB" env-default:"0"`
	RedisLockPrefix string        `env:"REDIS_LOCK_PREFIX" env-default:"clover:lock:"`

	// Scanning
	ScanPageSize       int           `env:"SCAN_PAGE_SIZE" env-default:"1000"`
	ScanWorkers        int           `env:"SCAN_WORKERS" env-default:"4"`
	ScanMaxBlockSize   int           `env:"SCAN_MAX_BLOCK_SIZE" env-default:"500"`
	ScanTimeout        time.Duration `env:"SCAN_TIMEOUT" env-default:"10m"`
	ScanMaxResults     int           `env:"SCAN_MAX_RESULTS" env-default:"0"`
	ScanMaterialChange float64       `env:"SCAN_MATERIAL_CHANGE" env-default:"0.05"`
	AutoMergeEnabled   bool          `env:"AUTO_MERGE_ENABLED" env-default:"false"`
	AliasMaxDepth      int           `env:"ALIAS_MAX_DEPTH" env-default:"16"`

	// Kafka producer for contact.merged events
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"clover.contact-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Graph database (Neo4j or Memgraph)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBURI      string `env:"GRAPH_DB_URI" env-default:"bolt://localhost:7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`

	// Tracing
	OTLPEnabled  bool          `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string        `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string        `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool          `env:"OTLP_INSECURE" env-default:"true"`
	OTLPTimeout  time.Duration `env:"OTLP_TIMEOUT" env-default:"10s"`
}

// Load reads envFiles when present and then the environment. Variables
// already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("LOCK_BACKEND must be memory or redis, got %q", c.LockBackend)
	}
	switch c.MergeLockMode {
	case "wait", "fail_fast":
	default:
		return fmt.Errorf("MERGE_LOCK_MODE must be wait or fail_fast, got %q", c.MergeLockMode)
	}
	if c.DatabaseMigrationVersion < 0 {
		return fmt.Errorf("DB_MIGRATION_VERSION must not be negative")
	}
	if c.ScanMaxResults < 0 {
		return fmt.Errorf("SCAN_MAX_RESULTS must not be negative")
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
