// Package postgres provides the PostgreSQL source engine. It registers
// itself with the driver registry on import.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL databases.
type Driver struct{}

func (d *Driver) Name() string { return driver.Postgres }

func (d *Driver) Aliases() []string { return []string{"postgresql", "pg"} }

func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 5432, Namespace: "public"}
}

func (d *Driver) Dialect() driver.Dialect { return &Dialect{} }

// Open builds a pgx pool and exposes it through database/sql so the catalog
// reader and the data mover share one set of connections.
func (d *Driver) Open(ctx context.Context, dsn string, maxConns int) (*driver.Conn, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres connection config: %w", err)
	}
	if maxConns < 1 {
		maxConns = 1
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(maxConns / 4)
	poolConfig.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	cc := poolConfig.ConnConfig
	logging.Info("Connected to PostgreSQL source: %s:%d/%s", cc.Host, cc.Port, cc.Database)

	stats := func() driver.PoolStats {
		s := pool.Stat()
		return driver.PoolStats{
			DBType:      driver.Postgres,
			MaxConns:    int(s.MaxConns()),
			ActiveConns: int(s.AcquiredConns()),
			IdleConns:   int(s.IdleConns()),
			WaitCount:   s.EmptyAcquireCount(),
			WaitTimeMs:  s.AcquireDuration().Milliseconds(),
		}
	}
	return driver.NewConn(db, &Dialect{}, stats, pool.Close), nil
}
