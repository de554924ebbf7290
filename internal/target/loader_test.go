package target

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mssql "github.com/microsoft/go-mssqldb"
)

func TestInsertBatchSize(t *testing.T) {
	tests := []struct {
		columns int
		want    int
	}{
		{0, 1},
		{1, 1000},
		{2, 1000},
		{3, 699},
		{10, 209},
		{2100, 1},
		{5000, 1},
	}
	for _, tt := range tests {
		got := insertBatchSize(tt.columns)
		if got != tt.want {
			t.Errorf("insertBatchSize(%d) = %d, want %d", tt.columns, got, tt.want)
		}
		if tt.columns > 0 && tt.columns < maxParams && got*tt.columns >= maxParams {
			t.Errorf("insertBatchSize(%d) = %d exceeds the parameter limit", tt.columns, got)
		}
	}
}

func TestBuildInsert(t *testing.T) {
	l := NewInsertLoader(nil, LoaderOptions{Namespace: "s_new", Table: "t", Columns: []string{"id", "na]me"}})
	l.prefix = "INSERT INTO [s_new].[t] ([id], [na]]me]) VALUES "

	query, args := l.buildInsert([][]any{{1, "a"}, {2, "b"}})
	want := "INSERT INTO [s_new].[t] ([id], [na]]me]) VALUES (@p1, @p2), (@p3, @p4)"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 4 || args[2] != 2 || args[3] != "b" {
		t.Errorf("args = %v", args)
	}
}

func TestBulkLoaderCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	opts := LoaderOptions{Namespace: "sales_new", Table: "customers", Columns: []string{"id", "name"}, RowsPerBatch: 100}
	copyIn := mssql.CopyIn("[sales_new].[customers]", mssql.BulkOptions{Tablock: true, RowsPerBatch: 100}, "id", "name")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(copyIn))
	prep.ExpectExec().WithArgs(int64(1), "Ada").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), "Grace").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	l := NewBulkLoader(db, opts)
	if err := l.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Write(ctx, [][]any{{int64(1), "Ada"}, {int64(2), "Grace"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Rollback(); err != nil {
		t.Errorf("Rollback after Commit should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBulkLoaderTakesCoercedValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cols := []string{"id", "amount", "active"}
	opts := LoaderOptions{Namespace: "sales_new", Table: "accounts", Columns: cols}
	copyIn := mssql.CopyIn("[sales_new].[accounts]", mssql.BulkOptions{Tablock: true}, cols...)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(copyIn))
	prep.ExpectExec().WithArgs(wireUUID, "12.3400000000", true).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	row, err := NewCoercer([]string{"UNIQUEIDENTIFIER", "DECIMAL(38, 10)", "BIT"}).
		Row([]any{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", []byte("12.34"), "1"})
	if err != nil {
		t.Fatalf("Row: %v", err)
	}

	ctx := context.Background()
	l := NewBulkLoader(db, opts)
	if err := l.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Write(ctx, [][]any{row}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBulkLoaderRollbackOnRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	opts := LoaderOptions{Namespace: "s_new", Table: "t", Columns: []string{"id"}}
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(mssql.CopyIn("[s_new].[t]", mssql.BulkOptions{Tablock: true}, "id")))
	prep.ExpectExec().WillReturnError(mockMSSQLError{errNum: 2627})
	mock.ExpectRollback()

	ctx := context.Background()
	l := NewBulkLoader(db, opts)
	if err := l.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = l.Write(ctx, [][]any{{int64(1)}})
	if err == nil || !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if err := l.Rollback(); err != nil {
		t.Errorf("Rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertLoaderCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	opts := LoaderOptions{Namespace: "sales_new", Table: "orders", Columns: []string{"id", "customer_id"}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE [sales_new].[orders] NOCHECK CONSTRAINT ALL")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET IDENTITY_INSERT [sales_new].[orders] ON")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [sales_new].[orders] ([id], [customer_id]) VALUES (@p1, @p2), (@p3, @p4)")).
		WithArgs(int64(10), int64(1), int64(11), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("SET IDENTITY_INSERT [sales_new].[orders] OFF")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE [sales_new].[orders] CHECK CONSTRAINT ALL")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	l := NewInsertLoader(db, opts)
	if err := l.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Write(ctx, [][]any{{int64(10), int64(1)}, {int64(11), int64(2)}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertLoaderRollbackResetsSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	opts := LoaderOptions{Namespace: "s_new", Table: "t", Columns: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec("NOCHECK CONSTRAINT ALL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("IDENTITY_INSERT .* ON").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	mock.ExpectExec("IDENTITY_INSERT .* OFF").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	l := NewLoader(db, opts, true)
	if err := l.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = l.Write(ctx, [][]any{{int64(1)}})
	if err == nil || !strings.Contains(err.Error(), "inserting rows 1-1") {
		t.Fatalf("unexpected write error %v", err)
	}
	if err := l.Rollback(); err != nil {
		t.Errorf("Rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
