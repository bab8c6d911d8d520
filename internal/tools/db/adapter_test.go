package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

func newMockAdapter(t *testing.T, cfg Config) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewAdapter(database, "appdb", cfg), mock
}

func TestListTables(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	mock.ExpectQuery(listTablesQuery).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("users"))

	tables, err := adapter.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "orders" {
		t.Fatalf("unexpected tables: %v", tables)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func expectSchemaQueries(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery(columnsQuery).WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("id", "integer", "NO", "nextval('users_id_seq')").
			AddRow("email", "character varying", "NO", "").
			AddRow("created_at", "timestamp with time zone", "YES", "now()"))
	mock.ExpectQuery(primaryKeysQuery).WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectQuery(foreignKeysQuery).WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "column_name", "table_name", "column_name"}))
	mock.ExpectQuery(indexesQuery).WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"relname", "attname", "indisunique"}).
			AddRow("users_pkey", "id", true).
			AddRow("users_email_idx", "email", true))
}

func TestTableSchemaFor(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	expectSchemaQueries(mock, "users")

	schema, err := adapter.TableSchemaFor(context.Background(), "users")
	if err != nil {
		t.Fatalf("TableSchemaFor: %v", err)
	}
	if len(schema.Columns) != 3 {
		t.Fatalf("want 3 columns, got %d", len(schema.Columns))
	}
	if !schema.Columns[0].PrimaryKey {
		t.Fatal("id should be flagged as primary key")
	}
	if schema.Columns[2].Nullable != true {
		t.Fatal("created_at should be nullable")
	}
	if len(schema.Indexes) != 2 || !schema.Indexes[0].Unique {
		t.Fatalf("unexpected indexes: %+v", schema.Indexes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTableSchemaForMissingTable(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	mock.ExpectQuery(columnsQuery).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}))

	_, err := adapter.TableSchemaFor(context.Background(), "ghost")
	if !errors.Is(err, toolerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTableSchemaForRejectsBadIdent(t *testing.T) {
	adapter, _ := newMockAdapter(t, Config{})
	_, err := adapter.TableSchemaFor(context.Background(), "users; DROP TABLE users")
	if !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQueryClassifier(t *testing.T) {
	adapter, _ := newMockAdapter(t, Config{})

	cases := []struct {
		query string
		want  error
	}{
		{"DELETE FROM users", toolerr.ErrPermission},
		{"DROP TABLE users", toolerr.ErrPermission},
		{"EXPLAIN SELECT 1", toolerr.ErrPermission},
		{"SELECT 1; DELETE FROM users", toolerr.ErrPermission},
		{"", toolerr.ErrInvalidArgument},
	}
	for _, tc := range cases {
		_, err := adapter.Query(context.Background(), tc.query)
		if !errors.Is(err, tc.want) {
			t.Errorf("query %q: expected %v, got %v", tc.query, tc.want, err)
		}
	}
}

func TestClassifierScansCTEBodies(t *testing.T) {
	rejected := []string{
		`WITH gone AS (DELETE FROM users RETURNING *) SELECT count(*) FROM gone`,
		`WITH w AS (UPDATE users SET email = '' RETURNING id) SELECT * FROM w`,
		`WITH a AS (SELECT 1), b AS (INSERT INTO audit VALUES (1) RETURNING *) SELECT * FROM b`,
		`SELECT * FROM users FOR UPDATE`,
	}
	for _, q := range rejected {
		if err := classifyStatement(q); !errors.Is(err, toolerr.ErrPermission) {
			t.Errorf("query %q: expected ErrPermission, got %v", q, err)
		}
	}
	allowed := []string{
		`WITH recent AS (SELECT * FROM orders WHERE created_at > now() - interval '1 day') SELECT count(*) FROM recent`,
		`SELECT * FROM audit WHERE action = 'DELETE'`,
		`SELECT "delete" FROM keywords`,
		`SELECT name FROM updates`,
	}
	for _, q := range allowed {
		if err := classifyStatement(q); err != nil {
			t.Errorf("query %q: expected to pass, got %v", q, err)
		}
	}
}

func TestQueryRowCap(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{MaxRows: 2})
	rows := sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2").AddRow("3")
	mock.ExpectQuery("SELECT id FROM users").WillReturnRows(rows)

	result, err := adapter.Query(context.Background(), "SELECT id FROM users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("expected 2 rows truncated, got %d truncated=%v", len(result.Rows), result.Truncated)
	}
}

func TestQueryNullRendering(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	rows := sqlmock.NewRows([]string{"email"}).AddRow(nil)
	mock.ExpectQuery("SELECT email FROM users").WillReturnRows(rows)

	result, err := adapter.Query(context.Background(), "SELECT email FROM users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Rows[0][0] != "NULL" {
		t.Fatalf("expected NULL cell, got %q", result.Rows[0][0])
	}
}

func TestQueryColumnSuggestion(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	mock.ExpectQuery("SELECT nam FROM users").
		WillReturnError(errors.New(`pq: column "nam" does not exist`))

	_, err := adapter.Query(context.Background(), "SELECT nam FROM users")
	if !errors.Is(err, toolerr.ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
	if !strings.Contains(err.Error(), "get_table_schema") {
		t.Fatalf("expected schema suggestion in error, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), `"users"`) {
		t.Fatalf("expected table name in suggestion, got %q", err.Error())
	}
}

func TestPoolSaturation(t *testing.T) {
	adapter, _ := newMockAdapter(t, Config{MaxConcurrent: 1})
	adapter.sem <- struct{}{}

	_, err := adapter.ListTables(context.Background())
	if !errors.Is(err, toolerr.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestSampleRowsClamp(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	mock.ExpectQuery(`SELECT * FROM "users" LIMIT 20`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1"))

	result, err := adapter.SampleRows(context.Background(), "users", 500)
	if err != nil {
		t.Fatalf("SampleRows: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("unexpected rows: %v", result.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRowCount(t *testing.T) {
	adapter, mock := newMockAdapter(t, Config{})
	mock.ExpectQuery(`SELECT COUNT(*) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := adapter.RowCount(context.Background(), "users")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if count != 42 {
		t.Fatalf("want 42, got %d", count)
	}
}
