package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"procgate/internal/config"
	"procgate/internal/instrument"
	"procgate/internal/logging"
)

// TransactionManager runs callbacks in a transaction on a fresh session and
// retries the whole attempt, with linear backoff, when the failure is
// retryable.
type TransactionManager struct {
	sessions    Sessions
	classifier  *ErrorClassifier
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *instrument.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

func NewTransactionManager(sessions Sessions, classifier *ErrorClassifier, cfg config.TransactionConfig, logger *slog.Logger, metrics *instrument.Metrics) *TransactionManager {
	m := &TransactionManager{
		sessions:    sessions,
		classifier:  classifier,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		logger:      logging.OrDiscard(logger).With("component", "transaction"),
		metrics:     metrics,
		sleep:       sleepContext,
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = 3
	}
	return m
}

// Transaction runs fn in a transaction, up to maxAttempts times (the
// configured default when maxAttempts <= 0). Each attempt gets its own
// session; a retryable failure rolls back, waits attempt*baseDelay and
// starts over. Anything else rolls back and is returned immediately.
func (m *TransactionManager) Transaction(ctx context.Context, maxAttempts int, fn func(ctx context.Context, s *Session) error) error {
	if maxAttempts <= 0 {
		maxAttempts = m.maxAttempts
	}

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "transaction", "transaction.run")
	defer span.End()

	var err error
	for attempt := 1; ; attempt++ {
		err = m.attempt(ctx, fn)
		if err == nil {
			m.metrics.IncTransaction("commit")
			span.SetMetadata("attempts", attempt)
			span.SetStatus("ok")
			return nil
		}

		if errors.Is(err, ErrTransactionImbalance) || attempt >= maxAttempts || !m.classifier.IsRetryable(err) {
			m.metrics.IncTransaction("rollback")
			span.SetMetadata("attempts", attempt)
			span.SetStatus("error")
			return err
		}

		delay := time.Duration(attempt) * m.baseDelay
		m.metrics.IncTransaction("retry")
		m.metrics.IncRetry("transaction", m.classifier.Classify(err).Code)
		m.logger.Warn("retrying transaction",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err)
		if serr := m.sleep(ctx, delay); serr != nil {
			span.SetStatus("error")
			return err
		}
	}
}

func (m *TransactionManager) attempt(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := m.sessions.Acquire(ctx)
	if err != nil {
		return m.classifier.Wrap(err, "", nil)
	}
	defer func() {
		if err != nil && m.classifier.Classify(err).Code == CodeConnection {
			s.Conn().MarkBroken()
		}
		if relErr := m.sessions.Release(ctx, s); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return s.InTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, s)
	})
}

// Nested runs fn in a savepoint-backed frame on an existing session.
// Only the outermost level retries.
func (m *TransactionManager) Nested(ctx context.Context, s *Session, fn func(ctx context.Context) error) error {
	return s.InTransaction(ctx, fn)
}
