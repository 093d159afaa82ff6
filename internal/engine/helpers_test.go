package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"procgate/internal/config"
	"procgate/internal/metadata"
	"procgate/internal/store"
)

func fptr(f float64) *float64 { return &f }

// newMockSessions returns sessions over a MySQL-dialect sqlmock database
// that matches statements exactly.
func newMockSessions(t *testing.T) (*SessionPool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pool := store.NewPool(store.NewFromDB(db, &store.MySQLDialect{}), time.Second, nil)
	return NewSessionPool(pool, nil), mock
}

func newSQLiteSessions(t *testing.T) (*SessionPool, *store.Store) {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "engine",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewSessionPool(store.NewPool(s, time.Second, nil), nil), s
}

func deadlockErr() error {
	return &mysql.MySQLError{Number: 1213, SQLState: [5]byte{'4', '0', '0', '0', '1'}, Message: "Deadlock found when trying to get lock; try restarting transaction"}
}

func noSleep(context.Context, time.Duration) error { return nil }

// userQueryFunction is user.query: one required integer parameter and a
// mapped response.
func userQueryFunction(t *testing.T) *metadata.FunctionDefinition {
	t.Helper()
	fn := &metadata.FunctionDefinition{
		ID:        "user.query",
		Procedure: "sp_get_user",
		Active:    true,
		Parameters: []metadata.ParameterDefinition{
			{Name: "user_id", Type: metadata.TypeInteger, Required: true, Position: 0, Rules: metadata.ValidationRules{Min: fptr(1)}},
		},
		Responses: []metadata.ResponseField{
			{Name: "user_id", Source: "id", Type: metadata.TypeInteger},
			{Name: "name", Source: "user_name", Type: metadata.TypeString},
			{Name: "email", Source: "user_email", Type: metadata.TypeString, Transform: &metadata.TransformRule{Rule: "lowercase"}},
		},
	}
	require.NoError(t, fn.Prepare())
	return fn
}

func newTestRetryHandler() *RetryHandler {
	r := NewRetryHandler(DefaultRetryPolicy(), NewErrorClassifier(nil), nil, nil)
	r.sleep = noSleep
	r.random = func() float64 { return 0 }
	return r
}

func newTestFunctionExecutor(sessions Sessions) *FunctionExecutor {
	classifier := NewErrorClassifier(nil)
	tm := NewTransactionManager(sessions, classifier, config.TransactionConfig{MaxAttempts: 3, BaseDelayMs: 1}, nil, nil)
	tm.sleep = noSleep
	return NewFunctionExecutor(FunctionExecutorDeps{
		Procedures:   NewProcedureExecutor(classifier, 0, nil),
		Retry:        newTestRetryHandler(),
		Transactions: tm,
		Sessions:     sessions,
		Classifier:   classifier,
	})
}
