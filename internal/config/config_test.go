package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a minimal Config that passes Validate after defaults.
func validConfig() *Config {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.User = "fepforge"
	cfg.Database.DBName = "fepforge"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.MinIO.Endpoint = "localhost:9000"
	ApplyDefaults(cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, "gaff2", cfg.Chem.ForceField)
	assert.Equal(t, "bcc", cfg.Chem.ChargeMethod)
	assert.Equal(t, 7.0, cfg.Chem.ProtonationPH)
	assert.Equal(t, "category", cfg.Chem.ElementMode)
	assert.Equal(t, 0.5, cfg.Chem.MaxPerturbationFraction)
	assert.Equal(t, 12, cfg.Chem.LambdaWindows)
	assert.Equal(t, "rbfe.job.audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, "fepforge:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad_port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad_mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"no_db_host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"no_redis", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
		{"no_brokers", func(c *Config) { c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"no_bucket", func(c *Config) { c.MinIO.Bucket = "" }, "minio.bucket"},
		{"bad_ff", func(c *Config) { c.Chem.ForceField = "opls" }, "chem.force_field"},
		{"bad_charge", func(c *Config) { c.Chem.ChargeMethod = "resp" }, "chem.charge_method"},
		{"bad_mode_elem", func(c *Config) { c.Chem.ElementMode = "fuzzy" }, "chem.element_mode"},
		{"bad_ph", func(c *Config) { c.Chem.ProtonationPH = 15 }, "chem.protonation_ph"},
		{"bad_budget", func(c *Config) { c.Chem.MaxPerturbationFraction = 1.5 }, "chem.max_perturbation_fraction"},
		{"bad_windows", func(c *Config) { c.Chem.LambdaWindows = 1 }, "chem.lambda_windows"},
		{"bad_dummy_scale", func(c *Config) { c.Chem.DummyBondScale = 0.3 }, "chem.dummy_bond_scale"},
		{"bad_concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
database:
  host: db.internal
  user: fepforge
  db_name: fepforge
redis:
  addr: redis.internal:6379
kafka:
  brokers: ["kafka.internal:9092"]
minio:
  endpoint: minio.internal:9000
chem:
  force_field: gaff
  max_perturbation_fraction: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "gaff", cfg.Chem.ForceField)
	assert.Equal(t, 0.4, cfg.Chem.MaxPerturbationFraction)
	// Defaults still applied for unset fields.
	assert.Equal(t, "bcc", cfg.Chem.ChargeMethod)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  host: db.internal
  user: fepforge
  db_name: fepforge
redis:
  addr: redis.internal:6379
kafka:
  brokers: ["kafka.internal:9092"]
minio:
  endpoint: minio.internal:9000
chem:
  force_field: charmm
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chem.force_field")
}
