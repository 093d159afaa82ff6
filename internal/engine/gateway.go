package engine

import (
	"context"
	"log/slog"

	"procgate/internal/instrument"
	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// Authorizer decides whether a client may execute a function within one
// configuration snapshot.
type Authorizer interface {
	AuthorizeIn(ctx context.Context, snap *metadata.Snapshot, client metadata.Client, fn *metadata.FunctionDefinition) (bool, error)
}

// Gateway is the whole request path for one function call: resolve the
// definition, authorize, validate, execute. A call resolves the current
// snapshot once and uses it throughout.
type Gateway struct {
	registry   *metadata.Registry
	authorizer Authorizer
	validator  *RequestValidator
	executor   *FunctionExecutor
	logger     *slog.Logger
}

func NewGateway(reg *metadata.Registry, authorizer Authorizer, validator *RequestValidator, executor *FunctionExecutor, logger *slog.Logger) *Gateway {
	if validator == nil {
		validator = NewRequestValidator(logger)
	}
	return &Gateway{
		registry:   reg,
		authorizer: authorizer,
		validator:  validator,
		executor:   executor,
		logger:     logging.OrDiscard(logger).With("component", "gateway"),
	}
}

func (g *Gateway) Registry() *metadata.Registry { return g.registry }

// Call executes functionID for client with the raw request params.
func (g *Gateway) Call(ctx context.Context, client metadata.Client, functionID string, params map[string]any) (*ExecutionResult, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "gateway", "function.call")
	defer span.End()
	span.SetMetadata("function", functionID)
	span.SetMetadata("client", client.ID)

	snap := g.registry.Snapshot()
	fn, err := g.resolve(ctx, snap, client, functionID)
	if err != nil {
		span.SetStatus("rejected")
		return nil, err
	}

	filled, err := g.validator.ValidateAndFillDefaults(params, fn)
	if err != nil {
		span.SetStatus("invalid")
		return nil, err
	}

	res, err := g.executor.Execute(ctx, fn, filled)
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}
	res.ConfigVersion = snap.Version
	span.SetStatus("ok")
	return res, nil
}

// resolve returns the callable definition or the authorization failure
// that stops the call.
func (g *Gateway) resolve(ctx context.Context, snap *metadata.Snapshot, client metadata.Client, functionID string) (*metadata.FunctionDefinition, error) {
	fn, ok := snap.Function(functionID)
	if !ok {
		if defErr := snap.DefinitionError(functionID); defErr != nil {
			g.logger.Error("call to misconfigured function", "function", functionID, "error", defErr)
			return nil, &ConfigurationError{Function: functionID, Err: defErr}
		}
		return nil, FunctionNotFoundError(functionID)
	}
	if !fn.Active {
		return nil, FunctionDisabledError(functionID)
	}
	if !client.Active {
		g.logger.Warn("inactive client", "client", client.ID, "function", functionID)
		return nil, PermissionDeniedError(functionID)
	}

	allowed, err := g.authorizer.AuthorizeIn(ctx, snap, client, fn)
	if err != nil {
		return nil, err
	}
	if !allowed {
		g.logger.Info("permission denied", "client", client.ID, "function", functionID)
		return nil, PermissionDeniedError(functionID)
	}
	return fn, nil
}

// FunctionSummary is the public view of a callable function.
type FunctionSummary struct {
	ID            string                         `json:"id"`
	Transactional bool                           `json:"transactional"`
	Parameters    []metadata.ParameterDefinition `json:"parameters"`
}

// Functions lists the active functions client may call.
func (g *Gateway) Functions(ctx context.Context, client metadata.Client) ([]FunctionSummary, error) {
	out := []FunctionSummary{}
	if !client.Active {
		return out, nil
	}
	snap := g.registry.Snapshot()
	for _, fn := range snap.Functions() {
		if !fn.Active {
			continue
		}
		allowed, err := g.authorizer.AuthorizeIn(ctx, snap, client, fn)
		if err != nil {
			return nil, err
		}
		if allowed {
			out = append(out, FunctionSummary{
				ID:            fn.ID,
				Transactional: fn.Transactional,
				Parameters:    fn.OrderedParameters(),
			})
		}
	}
	return out, nil
}
