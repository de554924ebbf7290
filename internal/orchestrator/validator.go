package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/target"
)

// ValidationResult compares one table's row count on both sides.
type ValidationResult struct {
	Namespace     string `json:"namespace"`
	Table         string `json:"table"`
	Destination   string `json:"destination"`
	SourceRows    int64  `json:"source_rows"`
	TargetRows    int64  `json:"target_rows"`
	Error         string `json:"error,omitempty"`
	CountsMatched bool   `json:"counts_matched"`
}

// Validate compares fresh source and destination row counts for every
// selected table. It returns all results, and an error if any table
// mismatched or could not be counted.
func (o *Orchestrator) Validate(ctx context.Context) ([]ValidationResult, error) {
	logging.Info("Validating row counts...")

	if err := o.connect(ctx); err != nil {
		return nil, err
	}
	tables := o.tables
	if tables == nil {
		var err error
		if _, tables, err = o.readCatalog(ctx); err != nil {
			return nil, err
		}
	}

	planner := o.planner()
	results := make([]ValidationResult, 0, len(tables))
	failed := 0
	for _, t := range tables {
		r := ValidationResult{
			Namespace:   t.Namespace,
			Table:       t.Name,
			Destination: planner.DestinationName(t.Namespace),
		}

		var err error
		if r.SourceRows, err = o.catalog.CountRows(ctx, t.Namespace, t.Name); err != nil {
			r.Error = fmt.Sprintf("source: %v", err)
		} else if r.TargetRows, err = target.CountRows(ctx, o.dest.DB, r.Destination, t.Name); err != nil {
			r.Error = fmt.Sprintf("destination: %v", err)
		} else {
			r.CountsMatched = r.SourceRows == r.TargetRows
		}

		switch {
		case r.Error != "":
			logging.Error("%-30s ERROR %s", t.FullName(), r.Error)
		case r.CountsMatched:
			logging.Info("%-30s OK %d rows", t.FullName(), r.SourceRows)
		default:
			logging.Error("%-30s FAIL source=%d target=%d (diff=%d)",
				t.FullName(), r.SourceRows, r.TargetRows, r.SourceRows-r.TargetRows)
		}
		if !r.CountsMatched {
			failed++
		}
		results = append(results, r)
	}

	if failed > 0 {
		return results, fmt.Errorf("row count validation failed: %d of %d tables mismatched", failed, len(tables))
	}
	return results, nil
}
