// Package config defines all configuration structures for FEPForge.  No I/O
// or parsing logic lives in this file, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
)

// ServerConfig holds HTTP server tunables for the REST surface.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the job table.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the parameter-set cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka parameters for audit records and batch intake.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	AuditTopic      string        `mapstructure:"audit_topic"`
	SubmitTopic     string        `mapstructure:"submit_topic"`
	ProducerRetries int           `mapstructure:"producer_retries"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
}

// MinIOConfig holds object-storage parameters for simulation-input bundles.
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// WorkerConfig holds pipeline worker-pool parameters.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	HealthPort   int           `mapstructure:"health_port"`
}

// ChemConfig holds chemistry-pipeline defaults: force field, charge method,
// protonation pH, and perturbation-map policy.
type ChemConfig struct {
	ForceField              string  `mapstructure:"force_field"`  // "gaff" | "gaff2"
	ChargeMethod            string  `mapstructure:"charge_method"` // "bcc" | "gas" | "mul"
	ProtonationPH           float64 `mapstructure:"protonation_ph"`
	ForceDefaultProtonation bool    `mapstructure:"force_default_protonation"`
	ElementMode             string  `mapstructure:"element_mode"` // "strict" | "category" | "permissive"
	AllowRingBreak          bool    `mapstructure:"allow_ring_break"`
	MaxPerturbationFraction float64 `mapstructure:"max_perturbation_fraction"`
	LambdaWindows           int     `mapstructure:"lambda_windows"`
	// LambdaDescending emits the schedule walked from the B endpoint (1 → 0)
	// for engines that sample the path in that order.
	LambdaDescending bool `mapstructure:"lambda_descending"`
	DummyBondScale          float64 `mapstructure:"dummy_bond_scale"`
	ToolTimeout             time.Duration `mapstructure:"tool_timeout"`
}

// Config is the root configuration structure for the whole pipeline.  Every
// infrastructure component and application service reads its settings from
// the relevant sub-struct.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Database DatabaseConfig    `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	MinIO    MinIOConfig       `mapstructure:"minio"`
	Worker   WorkerConfig      `mapstructure:"worker"`
	Chem     ChemConfig        `mapstructure:"chem"`
	Log      logging.LogConfig `mapstructure:"log"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers treat any error as fatal
// and refuse to start.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}

	if c.MinIO.Endpoint == "" {
		return fmt.Errorf("config: minio.endpoint is required")
	}
	if c.MinIO.Bucket == "" {
		return fmt.Errorf("config: minio.bucket is required")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must be >= 0, got %d", c.Worker.MaxRetries)
	}

	switch c.Chem.ForceField {
	case "gaff", "gaff2":
	default:
		return fmt.Errorf("config: chem.force_field %q is invalid; expected gaff|gaff2", c.Chem.ForceField)
	}
	switch c.Chem.ChargeMethod {
	case "bcc", "gas", "mul":
	default:
		return fmt.Errorf("config: chem.charge_method %q is invalid; expected bcc|gas|mul", c.Chem.ChargeMethod)
	}
	switch c.Chem.ElementMode {
	case "strict", "category", "permissive":
	default:
		return fmt.Errorf("config: chem.element_mode %q is invalid; expected strict|category|permissive", c.Chem.ElementMode)
	}
	if c.Chem.ProtonationPH < 0 || c.Chem.ProtonationPH > 14 {
		return fmt.Errorf("config: chem.protonation_ph %.2f is out of range [0, 14]", c.Chem.ProtonationPH)
	}
	if c.Chem.MaxPerturbationFraction <= 0 || c.Chem.MaxPerturbationFraction > 1 {
		return fmt.Errorf("config: chem.max_perturbation_fraction %.2f is out of range (0, 1]", c.Chem.MaxPerturbationFraction)
	}
	if c.Chem.LambdaWindows < 2 {
		return fmt.Errorf("config: chem.lambda_windows must be >= 2, got %d", c.Chem.LambdaWindows)
	}
	if c.Chem.DummyBondScale <= 0.5 || c.Chem.DummyBondScale > 1 {
		return fmt.Errorf("config: chem.dummy_bond_scale %.2f is out of range (0.5, 1]", c.Chem.DummyBondScale)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}

	return nil
}
