package engine

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// MySQL server and client error numbers the classifier knows about.
const (
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlDuplicateEntry   = 1062
	mysqlForeignKey       = 1452
	mysqlDataTooLong      = 1406
	mysqlServerGone       = 2006
	mysqlLostConnection   = 2013
	mysqlExecutionTimeout = 3024 // max_execution_time exceeded
)

var (
	timeoutKeywords    = []string{"timeout", "timed out", "statement_timeout", "max_execution_time"}
	deadlockKeywords   = []string{"deadlock"}
	connectionKeywords = []string{"connection lost", "server has gone away", "error while sending", "broken pipe",
		"connection refused", "connection reset", "invalid connection", "bad connection"}
)

var (
	classTimeout     = Classification{Code: CodeQueryTimeout, Status: 504, Message: "The query took too long to execute", Retryable: true}
	classDeadlock    = Classification{Code: CodeDeadlock, Status: 409, Message: "A database deadlock occurred, please retry", Retryable: true}
	classLockTimeout = Classification{Code: CodeLockTimeout, Status: 409, Message: "Timed out waiting for a database lock", Retryable: true}
	classConnection  = Classification{Code: CodeConnection, Status: 503, Message: "The database is unavailable", Retryable: true}
	classDuplicate   = Classification{Code: CodeDuplicateEntry, Status: 409, Message: "A record with this value already exists"}
	classForeignKey  = Classification{Code: CodeForeignKey, Status: 400, Message: "A referenced record does not exist"}
	classTooLong     = Classification{Code: CodeDataTooLong, Status: 400, Message: "A value is too long for its column"}
	classInternal    = Classification{Code: CodeInternal, Status: 500, Message: "An unexpected error occurred"}
	classProcedure   = Classification{Code: CodeStoredProcedure, Status: 500, Message: "The stored procedure failed"}
)

// sqlStateClasses maps the two-character SQLSTATE class to a classification.
var sqlStateClasses = map[string]Classification{
	"08": classConnection,
	"23": {Code: CodeConstraint, Status: 400, Message: "The data violates a database constraint"},
	"40": {Code: CodeTransaction, Status: 500, Message: "The transaction was rolled back"},
	"42": {Code: CodeQuery, Status: 400, Message: "The procedure call is invalid"},
	"HY": classProcedure,
}

// engineInfo is what the classifier can learn from a driver error.
type engineInfo struct {
	code     int
	sqlState string
	message  string
	known    bool
}

func inspect(err error) engineInfo {
	var (
		myErr *mysql.MySQLError
		pgErr *pgconn.PgError
		pe    *ProcedureError
	)
	switch {
	case errors.As(err, &pe):
		return engineInfo{code: pe.EngineCode, sqlState: pe.SQLState, message: pe.Message, known: pe.EngineCode != 0 || pe.SQLState != ""}
	case errors.As(err, &myErr):
		info := engineInfo{code: int(myErr.Number), message: myErr.Message, known: true}
		if myErr.SQLState != [5]byte{} {
			info.sqlState = string(myErr.SQLState[:])
		}
		return info
	case errors.As(err, &pgErr):
		return engineInfo{sqlState: pgErr.Code, message: pgErr.Message, known: true}
	}
	return engineInfo{message: err.Error()}
}

// ErrorClassifier turns database failures into the stable error taxonomy.
type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logging.OrDiscard(logger).With("component", "classifier")}
}

// Classify maps err to a code, HTTP status and retryability. Errors that
// already carry a classification keep it.
func (c *ErrorClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	var pe *ProcedureError
	if errors.As(err, &pe) && pe.Class.Code != "" {
		return pe.Class
	}
	return classify(err)
}

// ClassifyFor applies the function's error mappings first; a mapping always
// wins over generic classification for status and message. Candidates are
// tried in order: engine error number, SQLSTATE, classified code.
func (c *ErrorClassifier) ClassifyFor(err error, fn *metadata.FunctionDefinition) Classification {
	class := c.Classify(err)
	if fn == nil || len(fn.ErrorMappings) == 0 {
		return class
	}
	info := inspect(err)
	var errno string
	if info.code != 0 {
		errno = strconv.Itoa(info.code)
	}
	if m, ok := fn.FindErrorMapping(errno, info.sqlState, class.Code); ok {
		return Classification{Code: class.Code, Status: m.HTTPStatus, Message: m.Message, Retryable: class.Retryable}
	}
	return class
}

// Wrap converts err into a classified *ProcedureError for procedure.
func (c *ErrorClassifier) Wrap(err error, procedure string, params []any) *ProcedureError {
	var pe *ProcedureError
	if errors.As(err, &pe) {
		return pe
	}
	info := inspect(err)
	class := classify(err)
	c.logger.Debug("classified database error",
		"procedure", procedure, "code", class.Code, "engine_code", info.code, "sql_state", info.sqlState, "error", err)
	return &ProcedureError{
		Procedure:  procedure,
		Params:     params,
		SQLState:   info.sqlState,
		EngineCode: info.code,
		Message:    info.message,
		Class:      class,
		Err:        err,
	}
}

// WithMapping returns a copy of pe reclassified by fn's error mappings.
func (c *ErrorClassifier) WithMapping(pe *ProcedureError, fn *metadata.FunctionDefinition) *ProcedureError {
	out := *pe
	out.Class = c.ClassifyFor(pe, fn)
	return &out
}

// IsRetryable is the predicate shared by the retry handler and the
// transaction manager: deadlocks, lock timeouts, query timeouts and
// connection loss.
func (c *ErrorClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return c.Classify(err).Retryable
}

func classify(err error) Classification {
	if errors.Is(err, context.DeadlineExceeded) {
		return classTimeout
	}
	if errors.Is(err, context.Canceled) {
		return classInternal
	}

	info := inspect(err)
	switch info.code {
	case mysqlDeadlock:
		return classDeadlock
	case mysqlLockWaitTimeout:
		return classLockTimeout
	case mysqlExecutionTimeout:
		return classTimeout
	}
	switch info.sqlState {
	case pgerrcode.DeadlockDetected, pgerrcode.SerializationFailure:
		return classDeadlock
	case pgerrcode.LockNotAvailable:
		return classLockTimeout
	case pgerrcode.QueryCanceled:
		return classTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, timeoutKeywords):
		return classTimeout
	case containsAny(msg, deadlockKeywords):
		return classDeadlock
	case isConnectionLoss(err), containsAny(msg, connectionKeywords):
		return classConnection
	}

	switch info.code {
	case mysqlDuplicateEntry:
		return classDuplicate
	case mysqlForeignKey:
		return classForeignKey
	case mysqlDataTooLong:
		return classTooLong
	case mysqlServerGone, mysqlLostConnection:
		return classConnection
	}
	switch info.sqlState {
	case pgerrcode.UniqueViolation:
		return classDuplicate
	case pgerrcode.ForeignKeyViolation:
		return classForeignKey
	case pgerrcode.StringDataRightTruncationDataException:
		return classTooLong
	}

	if len(info.sqlState) >= 2 {
		if class, ok := sqlStateClasses[info.sqlState[:2]]; ok {
			return class
		}
		return classProcedure
	}
	if info.known {
		return classProcedure
	}
	return classInternal
}

func isConnectionLoss(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
