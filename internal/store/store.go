package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // Register mysql as database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"procgate/internal/config"
)

var ErrNotFound = errors.New("not found")

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn and *Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store wraps a database handle and its dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// New opens the database described by cfg and verifies it is reachable.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "mysql"
	}
	dialect := NewDialect(driver)

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite: single writer
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if lt := cfg.ConnMaxLifetime(); lt > 0 {
			db.SetConnMaxLifetime(lt)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{DB: db, Dialect: dialect}, nil
}

// NewFromDB wraps an already-open handle.
func NewFromDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{DB: db, Dialect: dialect}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// ResultSet is one row-set emitted by a statement, with columns in
// declaration order.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Maps returns the rows keyed by column name.
func (rs ResultSet) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(rs.Rows))
	for _, r := range rs.Rows {
		m := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			m[col] = r[i]
		}
		out = append(out, m)
	}
	return out
}

// ReadResultSets drains every result set from rows and closes it.
// Sets without columns (the status packet MySQL sends after CALL) are
// skipped.
func ReadResultSets(rows *sql.Rows) ([]ResultSet, error) {
	defer rows.Close()

	var sets []ResultSet
	for {
		columns, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("get columns: %w", err)
		}
		if len(columns) > 0 {
			set := ResultSet{Columns: columns, Rows: [][]any{}}
			for rows.Next() {
				values := make([]any, len(columns))
				ptrs := make([]any, len(columns))
				for i := range values {
					ptrs[i] = &values[i]
				}
				if err := rows.Scan(ptrs...); err != nil {
					return nil, fmt.Errorf("scan: %w", err)
				}
				for i := range values {
					values[i] = normalizeValue(values[i])
				}
				set.Rows = append(set.Rows, values)
			}
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("rows iteration: %w", err)
			}
			sets = append(sets, set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("next result set: %w", err)
	}
	return sets, nil
}

// QueryRows executes a query and returns results as []map[string]any.
func QueryRows(ctx context.Context, q Querier, sqlStr string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	sets, err := ReadResultSets(rows)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return []map[string]any{}, nil
	}
	return sets[0].Maps(), nil
}

// Exec executes a statement and returns the number of rows affected.
func Exec(ctx context.Context, q Querier, sqlStr string, args ...any) (int64, error) {
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// normalizeValue converts driver types to JSON-serializable Go types.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		// database/sql returns []byte for TEXT/VARCHAR/DECIMAL columns
		return string(val)
	default:
		return val
	}
}
