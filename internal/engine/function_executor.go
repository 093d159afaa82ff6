package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"procgate/internal/instrument"
	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// ExecutionResult is the outcome of one function call.
type ExecutionResult struct {
	Success       bool
	Data          any
	ExecutionTime time.Duration
	Attempts      int

	Function      string
	ConfigVersion uint64
}

// FunctionExecutor runs one function definition end to end: map the
// parameters, call the procedure (retried or transactional), transform
// the rows.
type FunctionExecutor struct {
	mapper       *ParameterMapper
	procedures   *ProcedureExecutor
	retry        *RetryHandler
	transactions *TransactionManager
	sessions     Sessions
	transformer  *ResultTransformer
	classifier   *ErrorClassifier
	logger       *slog.Logger
	metrics      *instrument.Metrics
}

type FunctionExecutorDeps struct {
	Mapper       *ParameterMapper
	Procedures   *ProcedureExecutor
	Retry        *RetryHandler
	Transactions *TransactionManager
	Sessions     Sessions
	Transformer  *ResultTransformer
	Classifier   *ErrorClassifier
	Logger       *slog.Logger
	Metrics      *instrument.Metrics
}

func NewFunctionExecutor(d FunctionExecutorDeps) *FunctionExecutor {
	if d.Mapper == nil {
		d.Mapper = NewParameterMapper()
	}
	if d.Transformer == nil {
		d.Transformer = NewResultTransformer(d.Logger)
	}
	return &FunctionExecutor{
		mapper:       d.Mapper,
		procedures:   d.Procedures,
		retry:        d.Retry,
		transactions: d.Transactions,
		sessions:     d.Sessions,
		transformer:  d.Transformer,
		classifier:   d.Classifier,
		logger:       logging.OrDiscard(d.Logger).With("component", "function_executor"),
		metrics:      d.Metrics,
	}
}

// Execute calls fn with already validated params. Validation failures come
// back as *ValidationError; every other failure is a *ProcedureError with
// the function's error mappings applied.
func (e *FunctionExecutor) Execute(ctx context.Context, fn *metadata.FunctionDefinition, params map[string]any) (*ExecutionResult, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "function", "function.execute")
	defer span.End()
	span.SetMetadata("function", fn.ID)

	start := time.Now()
	mapped, err := e.mapper.Map(params, fn)
	if err != nil {
		span.SetStatus("invalid")
		e.metrics.ObserveExecution(fn.ID, CodeValidation, time.Since(start))
		return nil, err
	}

	timeout := time.Duration(fn.TimeoutMs) * time.Millisecond
	var (
		res      *ProcedureResult
		attempts int
	)
	if fn.Transactional {
		err = e.transactions.Transaction(ctx, fn.MaxAttempts, func(ctx context.Context, s *Session) error {
			attempts++
			var err error
			res, err = e.procedures.Execute(ctx, s, fn.Procedure, mapped, timeout)
			return err
		})
	} else {
		res, err = Retry(ctx, e.retry, fn.ID, fn.MaxAttempts, func(ctx context.Context, attempt int) (*ProcedureResult, error) {
			attempts = attempt
			return e.call(ctx, fn, mapped, timeout)
		})
	}
	elapsed := time.Since(start)

	if err != nil {
		pe := e.surface(err, fn, mapped)
		span.SetStatus("error")
		span.SetMetadata("code", pe.Class.Code)
		e.metrics.ObserveExecution(fn.ID, pe.Class.Code, elapsed)
		e.logFailure(fn, pe, attempts, elapsed)
		return nil, pe
	}

	data := e.transformer.Transform(res, fn)
	span.SetMetadata("attempts", attempts)
	span.SetStatus("ok")
	e.metrics.ObserveExecution(fn.ID, "OK", elapsed)
	e.logger.Info("function executed",
		"function", fn.ID,
		"procedure", fn.Procedure,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds())

	return &ExecutionResult{
		Success:       true,
		Data:          data,
		ExecutionTime: elapsed,
		Attempts:      attempts,
		Function:      fn.ID,
	}, nil
}

// call is one non-transactional attempt on its own session.
func (e *FunctionExecutor) call(ctx context.Context, fn *metadata.FunctionDefinition, mapped []MappedParameter, timeout time.Duration) (res *ProcedureResult, err error) {
	s, err := e.sessions.Acquire(ctx)
	if err != nil {
		return nil, e.classifier.Wrap(err, fn.Procedure, Values(mapped))
	}
	defer func() {
		if relErr := e.sessions.Release(ctx, s); relErr != nil {
			e.logger.Warn("release session", "function", fn.ID, "error", relErr)
			if err == nil {
				res, err = nil, relErr
			}
		}
	}()
	return e.procedures.Execute(ctx, s, fn.Procedure, mapped, timeout)
}

// surface turns err into the error the caller sees: procedure failures get
// the function's error mappings, anything else becomes a generic
// STORED_PROCEDURE_ERROR.
func (e *FunctionExecutor) surface(err error, fn *metadata.FunctionDefinition, mapped []MappedParameter) *ProcedureError {
	var pe *ProcedureError
	if !errors.As(err, &pe) {
		pe = e.classifier.Wrap(err, fn.Procedure, Values(mapped))
		if pe.Class.Code == CodeInternal {
			pe.Class = classProcedure
		}
	}
	return e.classifier.WithMapping(pe, fn)
}

func (e *FunctionExecutor) logFailure(fn *metadata.FunctionDefinition, pe *ProcedureError, attempts int, elapsed time.Duration) {
	attrs := []any{
		"function", fn.ID,
		"procedure", fn.Procedure,
		"code", pe.Class.Code,
		"status", pe.Class.Status,
		"engine_code", pe.EngineCode,
		"sql_state", pe.SQLState,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
		"error", pe.Message,
	}
	if pe.Class.Status >= 500 {
		e.logger.Error("function failed", attrs...)
		return
	}
	e.logger.Warn("function failed", attrs...)
}
