package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"procgate/internal/logging"
)

const acquireAttempts = 2

// Pool checks out dedicated connections. A checked-out Conn belongs to a
// single call until Release; transaction state never leaks between calls.
type Pool struct {
	db            *sql.DB
	dialect       Dialect
	healthTimeout time.Duration
	logger        *slog.Logger
}

func NewPool(s *Store, healthTimeout time.Duration, logger *slog.Logger) *Pool {
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	return &Pool{
		db:            s.DB,
		dialect:       s.Dialect,
		healthTimeout: healthTimeout,
		logger:        logging.OrDiscard(logger).With("component", "pool"),
	}
}

func (p *Pool) Dialect() Dialect { return p.dialect }

// Acquire checks out a connection and pings it. A dead connection is
// discarded and replaced once before giving up.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= acquireAttempts; attempt++ {
		c, err := p.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
		err = c.PingContext(pingCtx)
		cancel()
		if err == nil {
			return &Conn{conn: c, dialect: p.dialect}, nil
		}

		p.logger.Warn("discarding unhealthy connection", "attempt", attempt, "error", err)
		discard(c)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("acquire connection: %w", lastErr)
}

// Release returns c to the pool, or closes it for good if it was marked
// broken.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.conn == nil {
		return
	}
	if c.broken {
		discard(c.conn)
	} else if err := c.conn.Close(); err != nil {
		p.logger.Warn("release connection", "error", err)
	}
	c.conn = nil
}

// discard closes the underlying driver connection instead of returning it
// to the idle set.
func discard(c *sql.Conn) {
	_ = c.Raw(func(any) error { return driver.ErrBadConn })
	_ = c.Close()
}

// Conn is one checked-out connection.
type Conn struct {
	conn    *sql.Conn
	dialect Dialect
	broken  bool
}

func (c *Conn) Dialect() Dialect { return c.dialect }

// MarkBroken makes Release drop the connection.
func (c *Conn) MarkBroken() { c.broken = true }

func (c *Conn) IsBroken() bool { return c.broken }

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}
