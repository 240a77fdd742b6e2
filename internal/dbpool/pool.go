package dbpool

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/paygateway/server/internal/config"
)

// SharedPool manages a single shared PostgreSQL connection pool.
// Multiple stores can use the same pool to reduce connection overhead.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool creates a new shared PostgreSQL connection pool.
func NewSharedPool(cfg config.PostgresConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	applyPoolSettings(db, cfg)

	return &SharedPool{db: db}, nil
}

// applyPoolSettings applies connection pool sizing from config to a *sql.DB.
func applyPoolSettings(db *sql.DB, cfg config.PostgresConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
}

// DB returns the underlying *sql.DB for use by stores.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool. Safe to call once at shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
