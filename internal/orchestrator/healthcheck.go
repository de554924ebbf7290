package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
)

// checkTimeout bounds each side of a health check.
const checkTimeout = 30 * time.Second

// HealthCheckResult describes the reachability of both databases.
type HealthCheckResult struct {
	Timestamp        string `json:"timestamp"`
	Healthy          bool   `json:"healthy"`
	SourceDBType     string `json:"source_db_type"`
	TargetDBType     string `json:"target_db_type"`
	SourceConnected  bool   `json:"source_connected"`
	TargetConnected  bool   `json:"target_connected"`
	SourceLatencyMs  int64  `json:"source_latency_ms"`
	TargetLatencyMs  int64  `json:"target_latency_ms"`
	SourceNamespaces int    `json:"source_namespaces"`
	SourceError      string `json:"source_error,omitempty"`
	TargetError      string `json:"target_error,omitempty"`
}

// Err summarises what is unhealthy, or returns nil.
func (r *HealthCheckResult) Err() error {
	if r.Healthy {
		return nil
	}
	var errs []error
	if !r.SourceConnected {
		errs = append(errs, fmt.Errorf("source connection check failed: %s", r.SourceError))
	}
	if !r.TargetConnected {
		errs = append(errs, fmt.Errorf("destination connection check failed: %s", r.TargetError))
	}
	return errors.Join(errs...)
}

// HealthCheck opens both connections if needed and pings them in parallel,
// each with its own timeout so a slow side cannot starve the other. An
// error is returned only when a connection could not be obtained at all.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	if err := o.connect(ctx); err != nil {
		return nil, err
	}

	result := &HealthCheckResult{
		Timestamp:    time.Now().Format(time.RFC3339),
		SourceDBType: dbType(o.source),
		TargetDBType: dbType(o.dest),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := o.source.DB.PingContext(checkCtx); err != nil {
			result.SourceError = err.Error()
		} else {
			result.SourceConnected = true
			if namespaces, err := o.catalog.ListNamespaces(checkCtx); err == nil {
				result.SourceNamespaces = len(namespaces)
			}
		}
		result.SourceLatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := o.dest.DB.PingContext(checkCtx); err != nil {
			result.TargetError = err.Error()
		} else {
			result.TargetConnected = true
		}
		result.TargetLatencyMs = time.Since(start).Milliseconds()
	}()

	wg.Wait()

	result.Healthy = result.SourceConnected && result.TargetConnected
	return result, nil
}

func dbType(c *driver.Conn) string {
	if c == nil || c.Dialect == nil {
		return ""
	}
	return c.Dialect.DBType()
}
