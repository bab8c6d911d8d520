package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

const (
	DefaultMaxConcurrent = 4
	DefaultMaxRows       = 200
	SampleLimitCeiling   = 20
)

// Config bounds the adapter. MaxConcurrent is the pool ceiling shared by
// every session; MaxRows caps how many result rows a query may return.
type Config struct {
	MaxConcurrent int
	MaxRows       int
}

func (c *Config) normalize() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
}

// Adapter wraps a read-only Postgres connection behind the tool contract.
type Adapter struct {
	db   *sql.DB
	cfg  Config
	sem  chan struct{}
	name string
}

// NewAdapter wires an adapter over an open connection. name is the database
// name reported in overviews.
func NewAdapter(database *sql.DB, name string, cfg Config) *Adapter {
	cfg.normalize()
	return &Adapter{
		db:   database,
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxConcurrent),
		name: name,
	}
}

// Open connects to Postgres and pings before handing back an adapter.
func Open(ctx context.Context, dsn, name string, cfg Config) (*Adapter, error) {
	database, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", toolerr.ErrConnection)
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %v: %w", err, toolerr.ErrConnection)
	}
	return NewAdapter(database, name, cfg), nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error { return a.db.Close() }

// acquire reserves a pool slot without blocking. Saturation is rejected so a
// busy pool surfaces to the caller instead of queueing silently.
func (a *Adapter) acquire() error {
	select {
	case a.sem <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("database pool saturated: %w", toolerr.ErrResourceExhausted)
	}
}

func (a *Adapter) release() { <-a.sem }

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: %w", name, toolerr.ErrInvalidArgument)
	}
	return nil
}

var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "GRANT": true,
	"REVOKE": true, "COPY": true, "VACUUM": true, "MERGE": true,
	"CALL": true, "DO": true, "SET": true,
}

var (
	// quotedPattern covers string literals (with '' escapes) and quoted
	// identifiers, which must not trip the keyword scan.
	quotedPattern = regexp.MustCompile(`'(?:[^']|'')*'|"[^"]*"`)
	wordPattern   = regexp.MustCompile(`[A-Za-z_]+`)
)

// classifyStatement rejects anything that is not a plain SELECT (or a
// read-only WITH) before it reaches the database. CTE bodies can hide
// data-modifying statements, so every keyword is checked, not just the
// first.
func classifyStatement(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query: %w", toolerr.ErrInvalidArgument)
	}
	fields := strings.Fields(strings.ToUpper(trimmed))
	first := fields[0]
	if first != "SELECT" && first != "WITH" {
		if writeKeywords[first] {
			return fmt.Errorf("only SELECT queries are allowed: %w", toolerr.ErrPermission)
		}
		return fmt.Errorf("unrecognized statement %q, only SELECT queries are allowed: %w", first, toolerr.ErrPermission)
	}
	if idx := strings.Index(trimmed, ";"); idx >= 0 && strings.TrimSpace(trimmed[idx+1:]) != "" {
		return fmt.Errorf("multiple statements are not allowed: %w", toolerr.ErrPermission)
	}
	stripped := quotedPattern.ReplaceAllString(strings.ToUpper(trimmed), "''")
	for _, word := range wordPattern.FindAllString(stripped, -1) {
		if writeKeywords[word] {
			return fmt.Errorf("%s is not allowed in a read-only query: %w", word, toolerr.ErrPermission)
		}
	}
	return nil
}

// mapDBError folds driver failures into the shared taxonomy.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("query deadline exceeded: %w", toolerr.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28", "0L", "0P": // authorization failures
			return fmt.Errorf("%s: %w", pqErr.Message, toolerr.ErrPermission)
		case "08": // connection exceptions
			return fmt.Errorf("%s: %w", pqErr.Message, toolerr.ErrConnection)
		default:
			if pqErr.Code == "42501" {
				return fmt.Errorf("%s: %w", pqErr.Message, toolerr.ErrPermission)
			}
			return fmt.Errorf("%s: %w", pqErr.Message, toolerr.ErrQuery)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%v: %w", err, toolerr.ErrConnection)
	}
	return fmt.Errorf("%v: %w", err, toolerr.ErrQuery)
}

// Column describes one table column as reported by information_schema.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	Default    string
	PrimaryKey bool
}

// ForeignKey is one outgoing reference of a table.
type ForeignKey struct {
	Name            string
	Columns         []string
	ReferredTable   string
	ReferredColumns []string
}

// Index is one index over a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableSchema bundles everything the introspection operations report about
// a single table.
type TableSchema struct {
	Name        string
	Columns     []Column
	PrimaryKeys []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

const listTablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`

// ListTables returns the public tables sorted by name.
func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()

	rows, err := a.db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapDBError(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError(err)
	}
	return tables, nil
}

const (
	columnsQuery = `SELECT column_name, data_type, is_nullable, COALESCE(column_default, '') FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`

	primaryKeysQuery = `SELECT kcu.column_name FROM information_schema.table_constraints tc JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY' ORDER BY kcu.ordinal_position`

	foreignKeysQuery = `SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name FROM information_schema.table_constraints tc JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'FOREIGN KEY' ORDER BY tc.constraint_name, kcu.ordinal_position`

	indexesQuery = `SELECT i.relname, a.attname, ix.indisunique FROM pg_class t JOIN pg_index ix ON t.oid = ix.indrelid JOIN pg_class i ON i.oid = ix.indexrelid JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey) WHERE t.relname = $1 AND t.relkind = 'r' ORDER BY i.relname, a.attnum`
)

// TableSchemaFor collects columns, key constraints and indexes for a table.
func (a *Adapter) TableSchemaFor(ctx context.Context, table string) (TableSchema, error) {
	if err := validIdent(table); err != nil {
		return TableSchema{}, err
	}
	if err := a.acquire(); err != nil {
		return TableSchema{}, err
	}
	defer a.release()

	schema := TableSchema{Name: table}

	rows, err := a.db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return TableSchema{}, mapDBError(err)
	}
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Default); err != nil {
			rows.Close()
			return TableSchema{}, mapDBError(err)
		}
		col.Nullable = nullable == "YES"
		schema.Columns = append(schema.Columns, col)
	}
	if err := closeRows(rows); err != nil {
		return TableSchema{}, err
	}
	if len(schema.Columns) == 0 {
		return TableSchema{}, fmt.Errorf("table %q not found: %w", table, toolerr.ErrNotFound)
	}

	rows, err = a.db.QueryContext(ctx, primaryKeysQuery, table)
	if err != nil {
		return TableSchema{}, mapDBError(err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return TableSchema{}, mapDBError(err)
		}
		schema.PrimaryKeys = append(schema.PrimaryKeys, name)
	}
	if err := closeRows(rows); err != nil {
		return TableSchema{}, err
	}
	pk := make(map[string]bool, len(schema.PrimaryKeys))
	for _, name := range schema.PrimaryKeys {
		pk[name] = true
	}
	for i := range schema.Columns {
		schema.Columns[i].PrimaryKey = pk[schema.Columns[i].Name]
	}

	rows, err = a.db.QueryContext(ctx, foreignKeysQuery, table)
	if err != nil {
		return TableSchema{}, mapDBError(err)
	}
	for rows.Next() {
		var constraint, column, refTable, refColumn string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn); err != nil {
			rows.Close()
			return TableSchema{}, mapDBError(err)
		}
		if n := len(schema.ForeignKeys); n > 0 && schema.ForeignKeys[n-1].Name == constraint {
			schema.ForeignKeys[n-1].Columns = append(schema.ForeignKeys[n-1].Columns, column)
			schema.ForeignKeys[n-1].ReferredColumns = append(schema.ForeignKeys[n-1].ReferredColumns, refColumn)
			continue
		}
		schema.ForeignKeys = append(schema.ForeignKeys, ForeignKey{
			Name:            constraint,
			Columns:         []string{column},
			ReferredTable:   refTable,
			ReferredColumns: []string{refColumn},
		})
	}
	if err := closeRows(rows); err != nil {
		return TableSchema{}, err
	}

	rows, err = a.db.QueryContext(ctx, indexesQuery, table)
	if err != nil {
		return TableSchema{}, mapDBError(err)
	}
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			rows.Close()
			return TableSchema{}, mapDBError(err)
		}
		if n := len(schema.Indexes); n > 0 && schema.Indexes[n-1].Name == name {
			schema.Indexes[n-1].Columns = append(schema.Indexes[n-1].Columns, column)
			continue
		}
		schema.Indexes = append(schema.Indexes, Index{Name: name, Columns: []string{column}, Unique: unique})
	}
	if err := closeRows(rows); err != nil {
		return TableSchema{}, err
	}

	return schema, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// QueryRows holds a capped result set with stringified cells.
type QueryRows struct {
	Columns   []string
	Rows      [][]string
	Truncated bool
}

var fromTablePattern = regexp.MustCompile(`(?i)FROM\s+([A-Za-z_][A-Za-z0-9_]*)`)

// Query runs a SELECT after classification, capping the returned rows at the
// configured ceiling. Column errors carry a hint pointing the caller back to
// the schema operation.
func (a *Adapter) Query(ctx context.Context, query string) (QueryRows, error) {
	if err := classifyStatement(query); err != nil {
		return QueryRows{}, err
	}
	if err := a.acquire(); err != nil {
		return QueryRows{}, err
	}
	defer a.release()

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return QueryRows{}, a.enrichQueryError(query, mapDBError(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return QueryRows{}, mapDBError(err)
	}
	result := QueryRows{Columns: cols}
	values := make([]sql.NullString, len(cols))
	scan := make([]interface{}, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if len(result.Rows) >= a.cfg.MaxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(scan...); err != nil {
			return QueryRows{}, mapDBError(err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return QueryRows{}, a.enrichQueryError(query, mapDBError(err))
	}
	return result, nil
}

// enrichQueryError appends a column-name hint when the failure looks like a
// misspelled column, mirroring the guidance the agent expects.
func (a *Adapter) enrichQueryError(query string, err error) error {
	if err == nil || !errors.Is(err, toolerr.ErrQuery) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "column") || !strings.Contains(msg, "does not exist") {
		return err
	}
	match := fromTablePattern.FindStringSubmatch(query)
	if match == nil {
		return err
	}
	return fmt.Errorf("%v\n\nSUGGESTION: the column name might be incorrect. Use get_table_schema with table_name=%q to check the exact column names available: %w", err, match[1], toolerr.ErrQuery)
}

// SampleRows fetches up to limit rows from a table, clamped to the ceiling.
func (a *Adapter) SampleRows(ctx context.Context, table string, limit int) (QueryRows, error) {
	if err := validIdent(table); err != nil {
		return QueryRows{}, err
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > SampleLimitCeiling {
		limit = SampleLimitCeiling
	}
	return a.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", pq.QuoteIdentifier(table), limit))
}

// RowCount returns the exact row count of a table.
func (a *Adapter) RowCount(ctx context.Context, table string) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	if err := a.acquire(); err != nil {
		return 0, err
	}
	defer a.release()

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))
	if err := a.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, mapDBError(err)
	}
	return count, nil
}

// DatabaseName reports the configured database name.
func (a *Adapter) DatabaseName() string { return a.name }

// Overview walks every table schema in the database.
func (a *Adapter) Overview(ctx context.Context) ([]TableSchema, error) {
	tables, err := a.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	schemas := make([]TableSchema, 0, len(tables))
	for _, table := range tables {
		schema, err := a.TableSchemaFor(ctx, table)
		if err != nil {
			if errors.Is(err, toolerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}
