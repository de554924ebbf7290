// Package driver holds the per-engine pieces shared by the catalog reader, the
// DDL planner and the loaders: identifier dialects, connection opening and
// pool statistics. Engines register themselves from their own packages.
package driver

import (
	"context"
	"database/sql"
	"fmt"
)

// Canonical engine names.
const (
	Postgres = "postgres"
	MSSQL    = "mssql"
)

// Defaults contains default connection values for an engine.
type Defaults struct {
	// Port is the default TCP port (5432 for PostgreSQL, 1433 for SQL Server).
	Port int

	// Namespace is the namespace objects land in when none is given.
	Namespace string
}

// Driver is one database engine.
//
// To add an engine:
// 1. Create a package under internal/driver/<engine>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&Driver{})
type Driver interface {
	// Name returns the primary driver name ("postgres", "mssql").
	Name() string

	// Aliases returns alternative names, e.g. ["postgresql", "pg"].
	Aliases() []string

	Defaults() Defaults

	Dialect() Dialect

	// Open connects with at most maxConns pooled connections and verifies
	// the connection with a ping before returning.
	Open(ctx context.Context, dsn string, maxConns int) (*Conn, error)
}

// Conn is an open connection pool to one engine.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect

	stats func() PoolStats
	close func()
}

// NewConn wraps db. stats and closeFn may be nil; closeFn runs after db is closed.
func NewConn(db *sql.DB, dialect Dialect, stats func() PoolStats, closeFn func()) *Conn {
	return &Conn{DB: db, Dialect: dialect, stats: stats, close: closeFn}
}

// Stats returns a snapshot of the pool.
func (c *Conn) Stats() PoolStats {
	if c.stats != nil {
		return c.stats()
	}
	s := c.DB.Stats()
	return PoolStats{
		DBType:      c.Dialect.DBType(),
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// Close closes the pool.
func (c *Conn) Close() error {
	err := c.DB.Close()
	if c.close != nil {
		c.close()
	}
	return err
}

// PoolStats contains connection pool statistics for logging.
type PoolStats struct {
	DBType      string
	MaxConns    int
	ActiveConns int
	IdleConns   int
	WaitCount   int64
	WaitTimeMs  int64
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	waits := s.WaitCount
	if waits < 1 {
		waits = 1
	}
	return fmt.Sprintf("%s: %d/%d active, %d idle, %d waits (%.1fms avg)",
		s.DBType, s.ActiveConns, s.MaxConns, s.IdleConns,
		s.WaitCount, float64(s.WaitTimeMs)/float64(waits))
}

// DefaultPort returns the registered default port for an engine, falling
// back to the well-known port when the engine package was not imported.
func DefaultPort(name string) int {
	if d, err := Get(name); err == nil {
		return d.Defaults().Port
	}
	switch Canonicalize(name) {
	case Postgres, "postgresql", "pg":
		return 5432
	case MSSQL, "sqlserver":
		return 1433
	}
	return 0
}
