package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxQueryLimit is the hard cap on rows returned by direct-SQL execution.
// Protects against unbounded report queries crashing the process.
const MaxQueryLimit = 1000

// queryDirect executes a bound SELECT against the target's pool. Read-only
// report queries are always wrapped with a dialect-specific limit.
func (m *managedPool) queryDirect(ctx context.Context, boundSQL string, args []any, limit int) ([]map[string]any, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > MaxQueryLimit {
		effectiveLimit = MaxQueryLimit
	}

	if m.pgx != nil {
		wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", boundSQL, effectiveLimit)
		return queryPostgres(ctx, m.pgx, wrapped, args)
	}
	if m.db != nil {
		converted := convertPositionalParamsToMSSQL(boundSQL)
		wrapped := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", effectiveLimit, converted)
		return queryMSSQL(ctx, m.db, wrapped, args)
	}
	return nil, fmt.Errorf("pool has no connection")
}

// queryPostgres runs a query on a pgx pool and collects rows as maps.
func queryPostgres(ctx context.Context, pool *pgxpool.Pool, sqlQuery string, args []any) ([]map[string]any, error) {
	rows, err := pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columnNames := make([]string, len(fields))
	for i, fd := range fields {
		columnNames[i] = fd.Name
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = values[i]
		}
		result = append(result, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// queryMSSQL runs a query against SQL Server and collects rows as maps.
// Positional args are passed as @p1, @p2, ... named parameters.
func queryMSSQL(ctx context.Context, db *sql.DB, sqlQuery string, args []any) ([]map[string]any, error) {
	namedParams := make([]any, len(args))
	for i, param := range args {
		namedParams[i] = sql.Named(fmt.Sprintf("p%d", i+1), param)
	}

	rows, err := db.QueryContext(ctx, sqlQuery, namedParams...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			// SQL Server text columns come back as []byte.
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		result = append(result, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

var positionalParamRegex = regexp.MustCompile(`\$(\d+)`)

// convertPositionalParamsToMSSQL rewrites PostgreSQL-style positional
// parameters ($1, $2, ...) to SQL Server named parameters (@p1, @p2, ...).
func convertPositionalParamsToMSSQL(query string) string {
	return positionalParamRegex.ReplaceAllStringFunc(query, func(match string) string {
		num, err := strconv.Atoi(match[1:])
		if err != nil {
			return match
		}
		return fmt.Sprintf("@p%d", num)
	})
}

// isStringType reports whether a SQL Server type name holds text.
func isStringType(typeName string) bool {
	switch strings.ToUpper(typeName) {
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}
