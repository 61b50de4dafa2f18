package tool

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/threadline-ai/threadline/ratelimit"
)

// Keywords that indicate a mutating statement; any occurrence in a
// filter value rejects the call outright.
var mutatingKeywords = []string{
	"insert", "update", "delete", "drop", "alter",
	"truncate", "create", "grant", "revoke", "exec",
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// QueryTool runs parameterized read-only lookups against an allow-listed
// set of tables. It never interpolates user input into SQL text: table
// and column names are validated identifiers checked against the allow
// list, and filter values travel as bind parameters.
type QueryTool struct {
	db *sql.DB

	// allowed maps table name to its queryable columns.
	allowed   map[string][]string
	tables    []string
	maxRows   int
	rateLimit *ratelimit.Limit
}

// NewQueryTool creates a query tool over db restricted to the given
// table/column allow list.
func NewQueryTool(db *sql.DB, allowed map[string][]string, rateLimit *ratelimit.Limit) (*QueryTool, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("query tool requires at least one allowed table")
	}
	tables := make([]string, 0, len(allowed))
	for table, columns := range allowed {
		if !identifierPattern.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
		for _, col := range columns {
			if !identifierPattern.MatchString(col) {
				return nil, fmt.Errorf("invalid column name %q in table %s", col, table)
			}
		}
		tables = append(tables, table)
	}
	return &QueryTool{
		db:        db,
		allowed:   allowed,
		tables:    tables,
		maxRows:   100,
		rateLimit: rateLimit,
	}, nil
}

func (t *QueryTool) Definition() Definition {
	return Definition{
		Name:        "query",
		Description: "Run a read-only lookup against an allow-listed data table.",
		Parameters: []Parameter{
			{Name: "table", Type: "string", Description: "Table to query", Required: true, Enum: t.tables},
			{Name: "filter_column", Type: "string", Description: "Column to filter on"},
			{Name: "filter_value", Type: "string", Description: "Value the filter column must equal"},
			{Name: "limit", Type: "integer", Description: "Maximum rows to return (default 10)"},
		},
		RateLimit: t.rateLimit,
	}
}

func containsMutatingKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range mutatingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (t *QueryTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	table, _ := args["table"].(string)
	columns, ok := t.allowed[table]
	if !ok {
		return Result{}, fmt.Errorf("table %q is not queryable", table)
	}

	limit := 10
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}
	if limit > t.maxRows {
		limit = t.maxRows
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	var params []any

	filterColumn, _ := args["filter_column"].(string)
	if filterColumn != "" {
		if !contains(columns, filterColumn) {
			return Result{}, fmt.Errorf("column %q is not filterable on table %s", filterColumn, table)
		}
		filterValue, _ := args["filter_value"].(string)
		if containsMutatingKeyword(filterValue) {
			return Result{}, fmt.Errorf("filter value contains a disallowed keyword")
		}
		query += fmt.Sprintf(" WHERE %s = ?", filterColumn)
		params = append(params, filterValue)
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := t.db.QueryContext(ctx, query, params...)
	if err != nil {
		return Result{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")

	count := 0
	values := make([]any, len(columns))
	scan := make([]any, len(columns))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return Result{}, fmt.Errorf("failed to scan row: %w", err)
		}
		parts := make([]string, len(values))
		for i, v := range values {
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			parts[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read rows: %w", err)
	}

	return Result{
		Success: true,
		Content: b.String(),
		Metadata: map[string]any{
			"table": table,
			"rows":  count,
		},
	}, nil
}

var _ Tool = (*QueryTool)(nil)
