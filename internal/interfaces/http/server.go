// Package http is the REST surface of the pipeline: batch submission, batch
// and job polling, health probes, and the metrics endpoint.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/prometheus"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// PipelineService is the application-layer slice the handlers call.
type PipelineService interface {
	SubmitBatch(ctx context.Context, req prep.BatchRequest) (*job.Batch, error)
	CancelBatch(ctx context.Context, id common.ID) error
	BatchStatus(ctx context.Context, id common.ID) (*prep.BatchStatus, error)
	Job(ctx context.Context, id common.ID) (*job.PipelineJob, error)
	JobAudit(ctx context.Context, id common.ID) ([]job.AuditRecord, error)
}

// HealthChecker reports one dependency's availability for the readiness
// probe.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Server owns the HTTP listener and its routes.
type Server struct {
	srv      *http.Server
	engine   *gin.Engine
	svc      PipelineService
	checkers []HealthChecker
	log      logging.Logger
}

// NewServer builds the router.  metrics may be nil to disable /metrics.
func NewServer(
	cfg config.ServerConfig,
	svc PipelineService,
	metrics *prometheus.Metrics,
	checkers []HealthChecker,
	log logging.Logger,
) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("http")

	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(requestLogging(log))
	if metrics != nil {
		engine.Use(observeRequests(metrics))
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	s := &Server{
		engine:   engine,
		svc:      svc,
		checkers: checkers,
		log:      log,
	}

	engine.GET("/healthz", s.liveness)
	engine.GET("/readyz", s.readiness)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/batches", s.submitBatch)
		v1.GET("/batches/:id", s.batchStatus)
		v1.GET("/batches/:id/jobs", s.batchJobs)
		v1.POST("/batches/:id/cancel", s.cancelBatch)
		v1.GET("/jobs/:id", s.getJob)
		v1.GET("/jobs/:id/audit", s.jobAudit)
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logging.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
