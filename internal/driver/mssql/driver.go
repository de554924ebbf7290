// Package mssql provides the SQL Server destination engine. It registers
// itself with the driver registry on import.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" database/sql driver

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

func (d *Driver) Name() string { return driver.MSSQL }

func (d *Driver) Aliases() []string { return []string{"sqlserver", "sql-server"} }

func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 1433, Namespace: "dbo"}
}

func (d *Driver) Dialect() driver.Dialect { return &Dialect{} }

func (d *Driver) Open(ctx context.Context, dsn string, maxConns int) (*driver.Conn, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sql server connection: %w", err)
	}
	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql server: %w", err)
	}

	var server, database string
	if err := db.QueryRowContext(ctx, "SELECT @@SERVERNAME, DB_NAME()").Scan(&server, &database); err == nil {
		logging.Info("Connected to SQL Server target: %s/%s", server, database)
	}
	return driver.NewConn(db, &Dialect{}, nil, nil), nil
}
