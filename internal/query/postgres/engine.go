// Package postgres executes translated SQL against the warehouse database
// over database/sql with read-only guarding and error classification.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askdb/askdb/internal/query"
)

type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, &query.Error{Kind: query.KindInvalid, Message: "sql is required"}
	}
	if !isReadOnlyStatement(sqlText) {
		return query.Result{}, &query.Error{Kind: query.KindInvalid, Message: "only SELECT statements are allowed"}
	}
	if strings.Contains(sqlText, ";") {
		return query.Result{}, &query.Error{Kind: query.KindInvalid, Message: "multiple statements are not allowed"}
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, classify(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, classify(err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, classify(err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, classify(err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: time.Since(start),
	}, nil
}

// isReadOnlyStatement accepts SELECT and WITH ... SELECT statements only.
func isReadOnlyStatement(sqlText string) bool {
	upper := strings.ToUpper(sqlText)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func classify(err error) *query.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 42 is syntax errors and access rule violations:
		// undefined tables, undefined columns, malformed statements.
		if strings.HasPrefix(pgErr.Code, "42") {
			return &query.Error{Kind: query.KindInvalid, Message: pgErr.Message, Cause: err}
		}
		return &query.Error{Kind: query.KindExecutionFailed, Message: pgErr.Message, Cause: err}
	}
	if isConnectionError(err) {
		return &query.Error{Kind: query.KindUnavailable, Message: "warehouse database unreachable", Cause: err}
	}
	return &query.Error{Kind: query.KindExecutionFailed, Message: "query execution failed", Cause: err}
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
