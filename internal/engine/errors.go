package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeNotFound         = "NOT_FOUND"
	CodeFunctionNotFound = "FUNCTION_NOT_FOUND"
	CodeFunctionDisabled = "FUNCTION_DISABLED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeStoredProcedure  = "STORED_PROCEDURE_ERROR"
	CodeQueryTimeout     = "QUERY_TIMEOUT"
	CodeDeadlock         = "DEADLOCK_ERROR"
	CodeLockTimeout      = "LOCK_TIMEOUT"
	CodeConnection       = "DATABASE_CONNECTION_ERROR"
	CodeDuplicateEntry   = "DUPLICATE_ENTRY"
	CodeForeignKey       = "FOREIGN_KEY_VIOLATION"
	CodeDataTooLong      = "DATA_TOO_LONG"
	CodeConstraint       = "CONSTRAINT_VIOLATION"
	CodeTransaction      = "TRANSACTION_ERROR"
	CodeQuery            = "QUERY_ERROR"
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// GenericServerMessage replaces every 5xx message outside debug mode.
const GenericServerMessage = "An internal server error occurred. Please try again later."

// AppError is the wire form of every failure.
type AppError struct {
	Code    string              `json:"code"`
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// ValidationError aggregates every failed rule, keyed by parameter name.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

func (e *ValidationError) Add(field, msg string) {
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns e as an error, or a nil interface when nothing failed.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + strings.Join(e.Fields[f], ", ")
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AuthorizationError covers unknown, disabled and forbidden functions.
type AuthorizationError struct {
	Code     string
	Status   int
	Function string
	Message  string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

func FunctionNotFoundError(id string) *AuthorizationError {
	return &AuthorizationError{
		Code:     CodeFunctionNotFound,
		Status:   fiber.StatusNotFound,
		Function: id,
		Message:  fmt.Sprintf("Function %s not found", id),
	}
}

func FunctionDisabledError(id string) *AuthorizationError {
	return &AuthorizationError{
		Code:     CodeFunctionDisabled,
		Status:   fiber.StatusForbidden,
		Function: id,
		Message:  fmt.Sprintf("Function %s is disabled", id),
	}
}

func UnauthenticatedError(msg string) *AppError {
	return NewAppError(CodeUnauthenticated, fiber.StatusUnauthorized, msg)
}

func PermissionDeniedError(id string) *AuthorizationError {
	return &AuthorizationError{
		Code:     CodePermissionDenied,
		Status:   fiber.StatusForbidden,
		Function: id,
		Message:  fmt.Sprintf("Permission denied for function %s", id),
	}
}

// Classification is the stable outcome of classifying a database failure.
type Classification struct {
	Code      string
	Status    int
	Message   string
	Retryable bool
}

// ProcedureError wraps every database failure. Raw driver errors never
// leave the engine unwrapped.
type ProcedureError struct {
	Procedure  string
	Params     []any
	SQLState   string
	EngineCode int
	Message    string // driver message
	Class      Classification
	Err        error
}

func (e *ProcedureError) Error() string {
	if e.Procedure == "" {
		return fmt.Sprintf("%s: %s", e.Class.Code, e.Message)
	}
	return fmt.Sprintf("procedure %s: %s: %s", e.Procedure, e.Class.Code, e.Message)
}

func (e *ProcedureError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an inconsistent function definition. Fatal for
// the call.
type ConfigurationError struct {
	Function string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("function %s is misconfigured: %v", e.Function, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ToAppError converts any engine error to its wire form. Outside debug mode
// 5xx messages are replaced by GenericServerMessage.
func ToAppError(err error, debug bool) *AppError {
	if err == nil {
		return nil
	}
	appErr := toAppError(err, debug)
	if appErr.Status >= 500 && !debug {
		appErr.Message = GenericServerMessage
	}
	return appErr
}

func toAppError(err error, debug bool) *AppError {
	var (
		app   *AppError
		valid *ValidationError
		authz *AuthorizationError
		proc  *ProcedureError
		conf  *ConfigurationError
		fe    *fiber.Error
	)
	switch {
	case errors.As(err, &app):
		cp := *app
		return &cp
	case errors.As(err, &valid):
		return &AppError{
			Code:    CodeValidation,
			Status:  fiber.StatusBadRequest,
			Message: "The given data was invalid.",
			Details: valid.Fields,
		}
	case errors.As(err, &authz):
		return &AppError{Code: authz.Code, Status: authz.Status, Message: authz.Message}
	case errors.As(err, &proc):
		msg := proc.Class.Message
		if debug && proc.Message != "" && proc.Message != msg {
			msg = fmt.Sprintf("%s: %s", msg, proc.Message)
		}
		return &AppError{Code: proc.Class.Code, Status: proc.Class.Status, Message: msg}
	case errors.As(err, &conf):
		return &AppError{Code: CodeConfiguration, Status: fiber.StatusInternalServerError, Message: conf.Error()}
	case errors.As(err, &fe):
		code := CodeInternal
		switch {
		case fe.Code == fiber.StatusNotFound:
			code = CodeNotFound
		case fe.Code < 500:
			code = CodeInvalidPayload
		}
		return &AppError{Code: code, Status: fe.Code, Message: fe.Message}
	default:
		return &AppError{Code: CodeInternal, Status: fiber.StatusInternalServerError, Message: err.Error()}
	}
}
