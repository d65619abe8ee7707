package config

import "time"

// ApplyDefaults fills every unset field of cfg with its platform default.
// Called by the loader after unmarshalling and before validation, so a
// minimal config file (or pure env-var deployment) still yields a complete,
// valid configuration.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = 24 * time.Hour
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "fepforge:"
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "fepforge-workers"
	}
	if cfg.Kafka.AuditTopic == "" {
		cfg.Kafka.AuditTopic = "rbfe.job.audit"
	}
	if cfg.Kafka.SubmitTopic == "" {
		cfg.Kafka.SubmitTopic = "rbfe.batch.submit"
	}
	if cfg.Kafka.ProducerRetries == 0 {
		cfg.Kafka.ProducerRetries = 3
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = time.Second
	}

	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "fepforge-bundles"
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = time.Hour
	}

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.QueueDepth == 0 {
		cfg.Worker.QueueDepth = 64
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = time.Second
	}
	if cfg.Worker.MaxBackoff == 0 {
		cfg.Worker.MaxBackoff = time.Minute
	}
	if cfg.Worker.StageTimeout == 0 {
		cfg.Worker.StageTimeout = 10 * time.Minute
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = 8081
	}

	if cfg.Chem.ForceField == "" {
		cfg.Chem.ForceField = "gaff2"
	}
	if cfg.Chem.ChargeMethod == "" {
		cfg.Chem.ChargeMethod = "bcc"
	}
	if cfg.Chem.ProtonationPH == 0 {
		cfg.Chem.ProtonationPH = 7.0
	}
	if cfg.Chem.ElementMode == "" {
		cfg.Chem.ElementMode = "category"
	}
	if cfg.Chem.MaxPerturbationFraction == 0 {
		cfg.Chem.MaxPerturbationFraction = 0.5
	}
	if cfg.Chem.LambdaWindows == 0 {
		cfg.Chem.LambdaWindows = 12
	}
	if cfg.Chem.DummyBondScale == 0 {
		cfg.Chem.DummyBondScale = 0.9
	}
	if cfg.Chem.ToolTimeout == 0 {
		cfg.Chem.ToolTimeout = 15 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
