package main

import (
	"context"
	"fmt"
	"log/slog"

	"procgate/internal/authz"
	"procgate/internal/cache"
	"procgate/internal/config"
	"procgate/internal/engine"
	"procgate/internal/instrument"
	"procgate/internal/logging"
	"procgate/internal/metadata"
	"procgate/internal/store"
)

// runtime is the gateway stack shared by serve and call.
type runtime struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	source       metadata.Source
	registry     *metadata.Registry
	metrics      *instrument.Metrics
	instrumenter instrument.Instrumenter
	authz        *authz.Manager
	gateway      *engine.Gateway
	formatter    *engine.ResponseFormatter
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	// 1. Database
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connected", "driver", st.Dialect.Name(), "name", cfg.Database.Name)

	// 2. Configuration graph
	var src metadata.Source
	if cfg.FunctionsFile != "" {
		src = metadata.FileSource{Path: cfg.FunctionsFile}
	} else {
		if err := st.Bootstrap(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("bootstrap config tables: %w", err)
		}
		src = metadata.SQLSource{Querier: st.DB, Logger: logger}
	}
	reg := metadata.NewRegistry()
	if _, err := metadata.ReloadFrom(ctx, src, reg, logger); err != nil {
		logger.Warn("failed to load configuration, starting empty", "error", err)
	}

	// 3. Metrics and spans
	var metrics *instrument.Metrics
	if cfg.Metrics.Enabled {
		metrics = instrument.NewMetrics()
	}

	// 4. Authorization
	kv, err := cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	manager := authz.NewManager(reg, authz.NewPermissionCache(kv, cfg.Cache.PermissionTTL(), logger), nil, logger, metrics)

	// 5. Execution engine
	classifier := engine.NewErrorClassifier(logger)
	sessions := engine.NewSessionPool(store.NewPool(st, cfg.Database.HealthCheckTimeout(), logger), logger)
	executor := engine.NewFunctionExecutor(engine.FunctionExecutorDeps{
		Procedures:   engine.NewProcedureExecutor(classifier, cfg.Database.StatementTimeout(), logger),
		Retry:        engine.NewRetryHandler(engine.RetryPolicyFromConfig(cfg.Retry), classifier, logger, metrics),
		Transactions: engine.NewTransactionManager(sessions, classifier, cfg.Transaction, logger, metrics),
		Sessions:     sessions,
		Classifier:   classifier,
		Logger:       logger,
		Metrics:      metrics,
	})

	return &runtime{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		source:       src,
		registry:     reg,
		metrics:      metrics,
		instrumenter: instrument.NewLogInstrumenter(logger, metrics),
		authz:        manager,
		gateway:      engine.NewGateway(reg, manager, engine.NewRequestValidator(logger), executor, logger),
		formatter:    engine.NewResponseFormatter(cfg.Debug),
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log)
}
