package store

import (
	"fmt"
	"strings"
	"time"
)

// Dialect abstracts database-specific SQL generation for procedure calls
// and session control.
type Dialect interface {
	// Name returns "mysql", "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// QuoteIdentifier quotes a possibly schema-qualified identifier.
	QuoteIdentifier(name string) string

	// SupportsProcedures reports whether CallSQL can be used.
	SupportsProcedures() bool

	// CallSQL returns the statement invoking procedure with argc positional
	// placeholders.
	// MySQL: CALL `proc`(?, ?)
	// PostgreSQL: SELECT * FROM "proc"($1, $2) (set-returning function)
	CallSQL(procedure string, argc int) string

	// StatementTimeoutSQL returns the session statement that bounds the
	// execution time of the next statements, or "" if unsupported.
	StatementTimeoutSQL(timeout time.Duration) string

	// ConfigTablesSQL returns the DDL for the configuration tables.
	ConfigTablesSQL() string
}

// NewDialect creates a Dialect for the given driver name.
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	case "postgres":
		return &PostgresDialect{}
	default:
		return &MySQLDialect{}
	}
}

func quoteParts(name string, quote string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}

func placeholders(d Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// --- MySQL ---

// MySQLDialect implements Dialect for MySQL/MariaDB via go-sql-driver/mysql.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string                 { return "mysql" }
func (d *MySQLDialect) DriverName() string           { return "mysql" }
func (d *MySQLDialect) Placeholder(index int) string { return "?" }
func (d *MySQLDialect) SupportsProcedures() bool     { return true }

func (d *MySQLDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, "`")
}

func (d *MySQLDialect) CallSQL(procedure string, argc int) string {
	return fmt.Sprintf("CALL %s(%s)", d.QuoteIdentifier(procedure), placeholders(d, argc))
}

// StatementTimeoutSQL is always empty: max_execution_time only bounds
// top-level SELECTs, never CALL. MySQL calls are bounded by the context
// deadline instead, which makes the driver drop the connection.
func (d *MySQLDialect) StatementTimeoutSQL(timeout time.Duration) string {
	return ""
}

func (d *MySQLDialect) ConfigTablesSQL() string {
	return configTablesSQL("VARCHAR(191)", "JSON")
}

// --- PostgreSQL ---

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string             { return "postgres" }
func (d *PostgresDialect) DriverName() string       { return "pgx" }
func (d *PostgresDialect) SupportsProcedures() bool { return true }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, `"`)
}

func (d *PostgresDialect) CallSQL(procedure string, argc int) string {
	return fmt.Sprintf("SELECT * FROM %s(%s)", d.QuoteIdentifier(procedure), placeholders(d, argc))
}

func (d *PostgresDialect) StatementTimeoutSQL(timeout time.Duration) string {
	if timeout <= 0 {
		return ""
	}
	return fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())
}

func (d *PostgresDialect) ConfigTablesSQL() string {
	return configTablesSQL("TEXT", "JSONB")
}

// --- SQLite ---

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite. SQLite
// has no stored procedures; it only hosts the configuration tables.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string             { return "sqlite" }
func (d *SQLiteDialect) DriverName() string       { return "sqlite" }
func (d *SQLiteDialect) SupportsProcedures() bool { return false }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, `"`)
}

func (d *SQLiteDialect) CallSQL(procedure string, argc int) string {
	return ""
}

func (d *SQLiteDialect) StatementTimeoutSQL(timeout time.Duration) string {
	return ""
}

func (d *SQLiteDialect) ConfigTablesSQL() string {
	return configTablesSQL("TEXT", "TEXT")
}
