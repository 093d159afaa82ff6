package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procgate/internal/logging"
	"procgate/internal/store"
)

// ErrTransactionImbalance reports a commit or rollback without a matching
// begin, or a session released with open frames. It is a programming error.
var ErrTransactionImbalance = errors.New("transaction imbalance")

// Session is one checked-out connection and its transaction frame stack.
// A session is owned by a single call and is not safe for concurrent use.
type Session struct {
	conn    *store.Conn
	dialect store.Dialect
	depth   int
	logger  *slog.Logger
}

func NewSession(conn *store.Conn, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		dialect: conn.Dialect(),
		logger:  logging.OrDiscard(logger),
	}
}

func (s *Session) Conn() *store.Conn      { return s.conn }
func (s *Session) Dialect() store.Dialect { return s.dialect }

// Depth is the number of open transaction frames: 0 outside a transaction,
// 1 inside the real transaction, more inside savepoints.
func (s *Session) Depth() int { return s.depth }

func savepointName(level int) string {
	return fmt.Sprintf("savepoint_level_%d", level)
}

func (s *Session) exec(ctx context.Context, stmt string) error {
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

// Begin opens the real transaction at depth 0 and a savepoint otherwise.
func (s *Session) Begin(ctx context.Context) error {
	stmt := "BEGIN"
	if s.depth > 0 {
		stmt = "SAVEPOINT " + savepointName(s.depth)
	}
	if err := s.exec(ctx, stmt); err != nil {
		return err
	}
	s.depth++
	return nil
}

// Commit commits the real transaction at depth 1 and releases the innermost
// savepoint otherwise.
func (s *Session) Commit(ctx context.Context) error {
	if s.depth == 0 {
		return fmt.Errorf("%w: commit without begin", ErrTransactionImbalance)
	}
	stmt := "COMMIT"
	if s.depth > 1 {
		stmt = "RELEASE SAVEPOINT " + savepointName(s.depth-1)
	}
	err := s.exec(ctx, stmt)
	if err != nil && s.depth == 1 {
		// the server ends the transaction when COMMIT fails
		s.depth = 0
		return err
	}
	if err != nil {
		return err
	}
	s.depth--
	return nil
}

// Rollback rolls back the real transaction at depth 1 and to the innermost
// savepoint otherwise; outer frames stay open.
func (s *Session) Rollback(ctx context.Context) error {
	if s.depth == 0 {
		return fmt.Errorf("%w: rollback without begin", ErrTransactionImbalance)
	}
	stmt := "ROLLBACK"
	if s.depth > 1 {
		stmt = "ROLLBACK TO SAVEPOINT " + savepointName(s.depth-1)
	}
	s.depth--
	return s.exec(ctx, stmt)
}

// InTransaction runs fn inside one frame: a transaction at depth 0, a
// savepoint when already inside one. fn's error rolls the frame back.
func (s *Session) InTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	depth := s.depth

	defer func() {
		if p := recover(); p != nil {
			if s.depth == depth {
				_ = s.Rollback(ctx)
			}
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if s.depth != depth {
			return errors.Join(err, fmt.Errorf("%w: depth %d after callback, expected %d", ErrTransactionImbalance, s.depth, depth))
		}
		if rbErr := s.Rollback(ctx); rbErr != nil {
			s.conn.MarkBroken()
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if s.depth != depth {
		_ = s.unwind(ctx)
		return fmt.Errorf("%w: depth %d after callback, expected %d", ErrTransactionImbalance, s.depth, depth)
	}
	return s.Commit(ctx)
}

// SetStatementTimeout bounds the statements that follow on this session.
func (s *Session) SetStatementTimeout(ctx context.Context, d time.Duration) error {
	stmt := s.dialect.StatementTimeoutSQL(d)
	if stmt == "" {
		return nil
	}
	return s.exec(ctx, stmt)
}

// unwind rolls back every open frame.
func (s *Session) unwind(ctx context.Context) error {
	if s.depth == 0 {
		return nil
	}
	s.depth = 0
	return s.exec(ctx, "ROLLBACK")
}

// Sessions hands out sessions over pooled connections.
type Sessions interface {
	Acquire(ctx context.Context) (*Session, error)
	Release(ctx context.Context, s *Session) error
}

// SessionPool adapts a store.Pool to Sessions.
type SessionPool struct {
	pool   *store.Pool
	logger *slog.Logger
}

func NewSessionPool(pool *store.Pool, logger *slog.Logger) *SessionPool {
	return &SessionPool{pool: pool, logger: logging.OrDiscard(logger).With("component", "session")}
}

func (p *SessionPool) Acquire(ctx context.Context) (*Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, p.logger), nil
}

// Release returns the connection to the pool. Open frames are rolled back,
// the connection is dropped, and ErrTransactionImbalance is returned.
func (p *SessionPool) Release(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	var err error
	if depth := s.depth; depth > 0 {
		err = fmt.Errorf("%w: session released with %d open frame(s)", ErrTransactionImbalance, depth)
		p.logger.Error("releasing session with open transaction", "depth", depth)
		_ = s.unwind(context.WithoutCancel(ctx))
		s.conn.MarkBroken()
	}
	p.pool.Release(s.conn)
	return err
}
