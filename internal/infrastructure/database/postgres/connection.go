// Package postgres provides the PostgreSQL persistence layer for batches,
// jobs, and audit history.  The connection rides database/sql over the pgx
// stdlib driver so the repository code stays mockable with sqlmock while the
// driver keeps pgx's wire protocol and error detail.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// sqlOpen is swapped by tests to inject sqlmock.
var sqlOpen = func(driverName, dsn string) (*sql.DB, error) {
	return sql.Open(driverName, dsn)
}

// Connection owns a *sql.DB pool and its lifecycle.
type Connection struct {
	db  *sql.DB
	cfg config.DatabaseConfig
	log logging.Logger

	closeOnce sync.Once
}

// NewConnection opens and verifies a pooled connection.
func NewConnection(ctx context.Context, cfg config.DatabaseConfig, log logging.Logger) (*Connection, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("postgres")

	db, err := sqlOpen("pgx", buildDSN(cfg))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "open database")
	}

	maxConns := cfg.MaxConns
	if maxConns < 1 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns < 0 {
		minConns = 0
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "verify database connection")
	}

	log.Info("connected to postgres",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.DBName),
		logging.Int("max_conns", maxConns))

	return &Connection{db: db, cfg: cfg, log: log}, nil
}

// DB exposes the underlying pool to repositories.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// HealthCheck pings the database and warns when the pool is close to
// exhaustion.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "database health check")
	}

	stats := c.db.Stats()
	if stats.MaxOpenConnections > 0 {
		usage := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if usage > 0.8 {
			c.log.Warn("connection pool usage is high",
				logging.Int("in_use", stats.InUse),
				logging.Int("max_open", stats.MaxOpenConnections),
				logging.Float64("usage", usage))
		}
	}
	return nil
}

// RunMigrations applies pending schema migrations from cfg.MigrationPath.
// A missing path is a no-op so embedded test setups can skip migrations.
func (c *Connection) RunMigrations() error {
	if c.cfg.MigrationPath == "" {
		c.log.Warn("no migration path configured, skipping migrations")
		return nil
	}

	driver, err := migratepg.WithInstance(c.db, &migratepg.Config{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "create migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+c.cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "initialise migrations")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "apply migrations")
	}

	version, dirty, _ := m.Version()
	c.log.Info("migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty))
	return nil
}

// Close shuts the pool down.  Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.db.Close()
		c.log.Info("postgres connection closed")
	})
	return err
}

func buildDSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	q.Set("statement_timeout", "30000")
	q.Set("lock_timeout", "5000")
	u.RawQuery = q.Encode()
	return u.String()
}
