package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// DBQueryTool runs a parameterized read-only statement.
type DBQueryTool struct {
	db      *sql.DB
	maxRows int
	timeout time.Duration
}

// DBExecTool runs a parameterized mutating statement.
type DBExecTool struct {
	db      *sql.DB
	timeout time.Duration
}

// NewDatabaseTools opens the configured database and returns the query and
// execute tools. Returns nil tools when no DSN is configured.
func NewDatabaseTools(cfg config.DatabaseToolConfig) ([]Tool, *sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil, nil
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return []Tool{
		&DBQueryTool{db: db, maxRows: cfg.MaxRows, timeout: cfg.QueryTimeout()},
		&DBExecTool{db: db, timeout: cfg.QueryTimeout()},
	}, db, nil
}

// checkParameterized rejects statements that inline values instead of using
// placeholders, and multi-statement payloads.
func checkParameterized(tool, statement string) error {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return NewToolError(KindInvalidArgs, tool, "statement is required", nil)
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return NewToolError(KindPolicyDenied, tool, "multiple statements are not allowed", nil)
	}
	if strings.ContainsAny(trimmed, "'\"") {
		return NewToolError(KindPolicyDenied, tool,
			"inline literals are not allowed, pass values through params placeholders", nil)
	}
	return nil
}

func paramValues(v interface{}) []interface{} {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return raw
}

func (t *DBQueryTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "db_query",
		Description: "Run a parameterized read-only SQL statement. Values must be passed through params.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"statement": map[string]interface{}{
				"type":        "string",
				"description": "SELECT statement using placeholder parameters.",
			},
			"params": map[string]interface{}{
				"type":        "array",
				"description": "Positional parameter values.",
			},
		}, "statement"),
	}
}

func (t *DBQueryTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	statement, _ := args["statement"].(string)
	if err := checkParameterized("db_query", statement); err != nil {
		return ToolResult{}, err
	}

	upper := strings.ToUpper(strings.TrimSpace(statement))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ToolResult{}, NewToolError(KindPolicyDenied, "db_query",
			"only SELECT statements are allowed, use db_execute for writes", nil)
	}

	queryCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rows, err := t.db.QueryContext(queryCtx, statement, paramValues(args["params"])...)
	if err != nil {
		if queryCtx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, "db_query", "query timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, "db_query", "query failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "db_query", "cannot read columns", err)
	}

	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString("\n")

	count := 0
	truncated := false
	for rows.Next() {
		if count >= t.maxRows {
			truncated = true
			break
		}
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ToolResult{}, NewToolError(KindToolError, "db_query", "scan failed", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return ToolResult{}, NewToolError(KindToolError, "db_query", "row iteration failed", err)
	}
	if truncated {
		fmt.Fprintf(&b, "(truncated at %d rows)\n", t.maxRows)
	}

	return ToolResult{
		Content:  b.String(),
		Metadata: map[string]interface{}{"rows": count, "truncated": truncated},
	}, nil
}

func (t *DBExecTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "db_execute",
		Description: "Run a parameterized mutating SQL statement. Values must be passed through params.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"statement": map[string]interface{}{
				"type":        "string",
				"description": "INSERT, UPDATE or DELETE statement using placeholder parameters.",
			},
			"params": map[string]interface{}{
				"type":        "array",
				"description": "Positional parameter values.",
			},
		}, "statement"),
	}
}

func (t *DBExecTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	statement, _ := args["statement"].(string)
	if err := checkParameterized("db_execute", statement); err != nil {
		return ToolResult{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.db.ExecContext(execCtx, statement, paramValues(args["params"])...)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, "db_execute", "statement timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, "db_execute", "statement failed", err)
	}

	affected, _ := res.RowsAffected()
	return ToolResult{
		Content:  fmt.Sprintf("%d rows affected", affected),
		Metadata: map[string]interface{}{"rows_affected": affected},
	}, nil
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
