package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"procgate/internal/instrument"
	"procgate/internal/logging"
	"procgate/internal/metadata"
	"procgate/internal/store"
)

// ProcedureResult is everything one procedure call produced.
type ProcedureResult struct {
	Procedure     string
	Sets          []store.ResultSet
	ExecutionTime time.Duration
}

// Data returns one result set unwrapped, or a list when the procedure
// emitted several.
func (r *ProcedureResult) Data() any {
	switch len(r.Sets) {
	case 0:
		return []map[string]any{}
	case 1:
		return r.Sets[0].Maps()
	}
	out := make([]any, len(r.Sets))
	for i, s := range r.Sets {
		out[i] = s.Maps()
	}
	return out
}

// ProcedureCall is one entry of a batch.
type ProcedureCall struct {
	Procedure string
	Params    []MappedParameter
	Timeout   time.Duration
}

// ProcedureExecutor binds typed arguments and invokes named procedures.
type ProcedureExecutor struct {
	classifier       *ErrorClassifier
	statementTimeout time.Duration
	logger           *slog.Logger
}

func NewProcedureExecutor(classifier *ErrorClassifier, statementTimeout time.Duration, logger *slog.Logger) *ProcedureExecutor {
	return &ProcedureExecutor{
		classifier:       classifier,
		statementTimeout: statementTimeout,
		logger:           logging.OrDiscard(logger).With("component", "executor"),
	}
}

// Execute calls procedure on s with params in their given order and drains
// every result set. timeout overrides the default statement timeout when
// positive. Every failure is returned as a *ProcedureError.
func (e *ProcedureExecutor) Execute(ctx context.Context, s *Session, procedure string, params []MappedParameter, timeout time.Duration) (*ProcedureResult, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "executor", "procedure.execute")
	defer span.End()
	span.SetMetadata("procedure", procedure)

	args := make([]any, len(params))
	for i, p := range params {
		v, err := bindValue(p)
		if err != nil {
			span.SetStatus("error")
			return nil, &ProcedureError{
				Procedure: procedure,
				Message:   err.Error(),
				Class:     Classification{Code: CodeStoredProcedure, Status: 500, Message: "Could not bind procedure parameters"},
				Err:       err,
			}
		}
		args[i] = v
	}

	dialect := s.Dialect()
	if !dialect.SupportsProcedures() {
		span.SetStatus("error")
		return nil, e.classifier.Wrap(&ConfigurationError{
			Err: fmt.Errorf("database driver %s does not support stored procedures", dialect.Name()),
		}, procedure, args)
	}

	if timeout <= 0 {
		timeout = e.statementTimeout
	}
	if err := s.SetStatementTimeout(ctx, timeout); err != nil {
		span.SetStatus("error")
		return nil, e.classifier.Wrap(err, procedure, args)
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := s.Conn().QueryContext(callCtx, dialect.CallSQL(procedure, len(args)), args...)
	if err != nil {
		return nil, e.fail(span, s, overran(ctx, callCtx, err), procedure, args)
	}
	sets, err := store.ReadResultSets(rows)
	if err != nil {
		return nil, e.fail(span, s, overran(ctx, callCtx, err), procedure, args)
	}
	elapsed := time.Since(start)

	span.SetMetadata("result_sets", len(sets))
	span.SetStatus("ok")
	e.logger.Debug("procedure executed",
		"procedure", procedure,
		"params", len(args),
		"result_sets", len(sets),
		"duration_ms", elapsed.Milliseconds())

	return &ProcedureResult{Procedure: procedure, Sets: sets, ExecutionTime: elapsed}, nil
}

// overran tags err as a timeout when the call's own deadline fired. Drivers
// report an aborted call in their own words, if at all.
func overran(ctx, callCtx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

func (e *ProcedureExecutor) fail(span instrument.Span, s *Session, err error, procedure string, args []any) *ProcedureError {
	pe := e.classifier.Wrap(err, procedure, args)
	span.SetStatus("error")
	span.SetMetadata("code", pe.Class.Code)
	if pe.Class.Code == CodeConnection || pe.Class.Code == CodeQueryTimeout {
		// the driver may have abandoned the connection mid-call
		s.Conn().MarkBroken()
	}
	e.logger.Warn("procedure failed",
		"procedure", procedure,
		"code", pe.Class.Code,
		"engine_code", pe.EngineCode,
		"sql_state", pe.SQLState,
		"error", pe.Message)
	return pe
}

// ExecuteBatch runs calls in order inside one transaction frame on s. Any
// failure rolls the whole batch back. Inside an outer transaction the batch
// uses a savepoint.
func (e *ProcedureExecutor) ExecuteBatch(ctx context.Context, s *Session, calls []ProcedureCall) ([]*ProcedureResult, error) {
	results := make([]*ProcedureResult, 0, len(calls))
	err := s.InTransaction(ctx, func(ctx context.Context) error {
		for _, c := range calls {
			res, err := e.Execute(ctx, s, c.Procedure, c.Params, c.Timeout)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteInTransaction is ExecuteBatch for a single call.
func (e *ProcedureExecutor) ExecuteInTransaction(ctx context.Context, s *Session, call ProcedureCall) (*ProcedureResult, error) {
	results, err := e.ExecuteBatch(ctx, s, []ProcedureCall{call})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// bindValue picks the explicit bind kind for a parameter: integer, boolean,
// null or string.
func bindValue(p MappedParameter) (any, error) {
	if p.Value == nil {
		return nil, nil
	}
	switch p.Type {
	case metadata.TypeInteger:
		i, err := castInteger(p.Value)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", p.Name, err)
		}
		return i, nil
	case metadata.TypeBoolean:
		return castBoolean(p.Value), nil
	case metadata.TypeFloat:
		f, ok := toFloat64(p.Value)
		if !ok {
			return nil, fmt.Errorf("bind %s: %w", p.Name, &CastError{Type: p.Type, Value: p.Value})
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case metadata.TypeJSON, metadata.TypeArray:
		if s, ok := p.Value.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", p.Name, err)
		}
		return string(b), nil
	default:
		s, err := castString(p.Value)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", p.Name, err)
		}
		return s, nil
	}
}
