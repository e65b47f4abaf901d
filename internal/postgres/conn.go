// Package postgres implements the database notification bridge: a pgx pool
// for NOTIFY/DDL work plus a dedicated connection holding LISTEN channels.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Default pgxpool connection limits, overridable via environment variables:
//   - DB_MAX_CONNS: maximum number of connections in the pool (default 10)
//   - DB_MIN_CONNS: minimum idle connections kept alive (default 2)
//   - DB_MAX_CONN_LIFETIME: maximum lifetime of a connection (default 1h)
const (
	defaultMaxConns        = 10
	defaultMinConns        = 2
	defaultMaxConnLifetime = 1 * time.Hour
)

// ConnConfig holds the POSTGRES_* connection settings.
type ConnConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// URL renders the config as a postgres connection URL.
func (c ConnConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Database,
	}
	return u.String()
}

// NewPool creates a pgxpool.Pool for the given connection settings and
// verifies it with a ping.
func NewPool(ctx context.Context, cfg ConnConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = int32(envInt("DB_MAX_CONNS", defaultMaxConns))
	poolCfg.MinConns = int32(envInt("DB_MIN_CONNS", defaultMinConns))
	poolCfg.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	slog.Info("postgres pool ready",
		"host", cfg.Host, "database", cfg.Database,
		"max_conns", poolCfg.MaxConns, "min_conns", poolCfg.MinConns,
	)
	return pool, nil
}

// envInt reads an integer from an environment variable, returning defaultVal if unset or invalid.
func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return n
}

// envDuration reads a Go duration from an environment variable, returning defaultVal if unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return d
}
