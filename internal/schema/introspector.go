// Package schema reads the warehouse database layout for two consumers: the
// GET /tables listing and the schema description fed to the NL-to-SQL
// translator prompt.
package schema

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrUnavailable = errors.New("schema: database unavailable")

type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

func (i *Introspector) HealthCheck(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping warehouse db: %w", err)
	}
	return nil
}

// ListTables returns user-defined base tables in the public schema,
// alphabetically. Views and system catalogs are excluded.
func (i *Introspector) ListTables(ctx context.Context) ([]string, error) {
	query := `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
AND table_type = 'BASE TABLE'
ORDER BY table_name ASC`

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapUnavailable("list tables", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable("iterate table names", err)
	}
	return tables, nil
}

type column struct {
	TableName  string
	Name       string
	DataType   string
	IsNullable bool
}

// Describe renders a deterministic textual description of every base table
// and its columns, suitable for injection into the translator prompt.
func (i *Introspector) Describe(ctx context.Context) (string, error) {
	query := `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns AS c
JOIN information_schema.tables AS t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = 'public'
AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name ASC, c.ordinal_position ASC`

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return "", wrapUnavailable("describe schema", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]column, 0)
	for rows.Next() {
		var col column
		var nullable string
		if err := rows.Scan(&col.TableName, &col.Name, &col.DataType, &nullable); err != nil {
			return "", fmt.Errorf("scan column row: %w", err)
		}
		col.IsNullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return "", wrapUnavailable("iterate column rows", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("describe schema: no base tables found")
	}

	return renderDescription(columns), nil
}

func renderDescription(columns []column) string {
	var sb strings.Builder
	current := ""
	for _, col := range columns {
		if col.TableName != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = col.TableName
			sb.WriteString("Table " + current + ":\n")
		}
		sb.WriteString("  - " + col.Name + " " + col.DataType)
		if col.IsNullable {
			sb.WriteString(" (nullable)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func wrapUnavailable(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
