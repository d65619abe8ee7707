package main

import (
	"context"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/topology"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/normalize"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/param"
	"github.com/fepforge/fepforge/internal/infrastructure/database/postgres"
	redisdb "github.com/fepforge/fepforge/internal/infrastructure/database/redis"
	"github.com/fepforge/fepforge/internal/infrastructure/messaging/kafka"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/prometheus"
	miniostore "github.com/fepforge/fepforge/internal/infrastructure/storage/minio"
	httpapi "github.com/fepforge/fepforge/internal/interfaces/http"
)

// pipeline bundles every wired component of a running node.
type pipeline struct {
	cfg     *config.Config
	log     logging.Logger
	pg      *postgres.Connection
	redis   *redisdb.Client
	audit   *kafka.AuditProducer
	metrics *prometheus.Metrics
	svc     *prep.Service
}

// buildPipeline connects all infrastructure and assembles the orchestrator.
func buildPipeline(ctx context.Context, cfg *config.Config, log logging.Logger) (*pipeline, error) {
	pg, err := postgres.NewConnection(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := pg.RunMigrations(); err != nil {
		_ = pg.Close()
		return nil, err
	}
	repo := postgres.NewJobRepository(pg, log)

	rc, err := redisdb.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	storeOpts := []redisdb.ParamStoreOption{redisdb.WithTTL(cfg.Redis.DefaultTTL)}
	if cfg.Redis.KeyPrefix != "" {
		storeOpts = append(storeOpts, redisdb.WithPrefix(cfg.Redis.KeyPrefix))
	}
	store := redisdb.NewParamStore(rc, log, storeOpts...)

	bundles, err := miniostore.NewBundleStore(ctx, cfg.MinIO, log)
	if err != nil {
		_ = rc.Close()
		_ = pg.Close()
		return nil, err
	}

	audit := kafka.NewAuditProducer(cfg.Kafka, log)
	metrics := prometheus.NewMetrics()

	normalizer := normalize.New(normalize.Options{
		PH:                      cfg.Chem.ProtonationPH,
		ForceDefaultProtonation: cfg.Chem.ForceDefaultProtonation,
	}, log)

	backend := param.NewAmberBackend(param.AmberConfig{Timeout: cfg.Chem.ToolTimeout}, log)
	params := param.NewCached(backend, store, metrics, log)

	mapper := mapping.NewBuilder(mapOptions(cfg.Chem), log)

	merger, err := topology.NewMerger(cfg.Chem.DummyBondScale, log)
	if err != nil {
		_ = rc.Close()
		_ = pg.Close()
		return nil, err
	}

	svc := prep.NewService(cfg.Worker, cfg.Chem, repo, audit, bundles,
		normalizer, params, mapper, merger, metrics, log)

	return &pipeline{
		cfg:     cfg,
		log:     log,
		pg:      pg,
		redis:   rc,
		audit:   audit,
		metrics: metrics,
		svc:     svc,
	}, nil
}

func (p *pipeline) close() {
	_ = p.audit.Close()
	_ = p.redis.Close()
	_ = p.pg.Close()
}

// mapOptions translates configuration into map-builder options.
func mapOptions(chem config.ChemConfig) mapping.Options {
	opts := mapping.DefaultOptions()
	switch chem.ElementMode {
	case "strict":
		opts.ElementMode = mapping.ElementStrict
	case "permissive":
		opts.ElementMode = mapping.ElementPermissive
	default:
		opts.ElementMode = mapping.ElementCategory
	}
	opts.AllowRingBreak = chem.AllowRingBreak
	if chem.MaxPerturbationFraction > 0 {
		opts.MaxPerturbationFraction = chem.MaxPerturbationFraction
	}
	return opts
}

// healthCheckers adapts infrastructure health checks to the readiness probe.
func (p *pipeline) healthCheckers() []httpapi.HealthChecker {
	return []httpapi.HealthChecker{
		namedChecker{"postgres", p.pg.HealthCheck},
		namedChecker{"redis", p.redis.HealthCheck},
	}
}

type namedChecker struct {
	name  string
	check func(ctx context.Context) error
}

func (c namedChecker) Name() string                    { return c.name }
func (c namedChecker) Check(ctx context.Context) error { return c.check(ctx) }
