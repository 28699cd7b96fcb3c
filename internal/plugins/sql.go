package plugins

import (
	"database/sql"
	"encoding/json"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
)

// sqlDSNEnv names the environment variable carrying the database/sql DSN
// for sql.query (SPEC_FULL.md §4.6 expansion). The teacher's SQLPlugin
// left this unimplemented ("sql plugin not yet implemented" in
// services/orchestrator/plugins.go); this repository completes it
// against the one real SQL driver in the corpus,
// modernc.org/sqlite (pure Go, no cgo, from 88lin-divinesense).
const sqlDSNEnv = "SPIDER_SQL_DSN"

var (
	sqlOnce sync.Once
	sqlDB   *sql.DB
	sqlErr  error
)

func openSQL() (*sql.DB, error) {
	sqlOnce.Do(func() {
		dsn := os.Getenv(sqlDSNEnv)
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqlDB, sqlErr = sql.Open("sqlite", dsn)
	})
	return sqlDB, sqlErr
}

func init() {
	executor.Register("sql.query", sqlQuery)
}

// sqlQuery runs a parameterized query against SPIDER_SQL_DSN (an in-memory
// SQLite database when unset). Args:
// [0] query string, [1:] string-typed bind parameters. Returns one
// output: the result rows JSON-encoded as []map[string]any.
func sqlQuery(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) == 0 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sql.query requires a query argument")
	}
	db, err := openSQL()
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "open sql: %v", err)
	}
	query := string(args[0])
	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, string(a))
	}

	rows, err := db.Query(query, params...)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "columns: %v", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.NewTaskExecutionErr(core.TaskFailed, "scan: %v", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "rows: %v", err)
	}

	out, err := json.Marshal(results)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "marshal results: %v", err)
	}
	return [][]byte{out}, nil
}
