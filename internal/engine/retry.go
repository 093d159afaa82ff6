package engine

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"procgate/internal/config"
	"procgate/internal/instrument"
	"procgate/internal/logging"
)

// RetryPolicy is exponential backoff with bounded jitter:
// delay(n) = min(base*mult^(n-1) + jitter, maxDelay), jitter in
// [0, JitterFraction) of the exponential term.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	JitterFraction float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		Multiplier:     2.0,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
	}
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	if cfg.JitterFraction >= 0 {
		p.JitterFraction = cfg.JitterFraction
	}
	return p
}

// Delay returns the pause before attempt+1, given that attempt (1-based)
// just failed. unit is a random number in [0, 1).
func (p RetryPolicy) Delay(attempt int, unit float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	exp := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if unit < 0 {
		unit = 0
	}
	if unit > 1 {
		unit = 1
	}
	d := exp + exp*p.JitterFraction*unit
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// RetryHandler retries operations whose failure is classified retryable.
type RetryHandler struct {
	policy     RetryPolicy
	classifier *ErrorClassifier
	logger     *slog.Logger
	metrics    *instrument.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

func NewRetryHandler(policy RetryPolicy, classifier *ErrorClassifier, logger *slog.Logger, metrics *instrument.Metrics) *RetryHandler {
	return &RetryHandler{
		policy:     policy,
		classifier: classifier,
		logger:     logging.OrDiscard(logger).With("component", "retry"),
		metrics:    metrics,
		sleep:      sleepContext,
		random:     cryptoRandomUnitFloat64,
	}
}

func (r *RetryHandler) Policy() RetryPolicy { return r.policy }

// Do runs op up to maxAttempts times (the policy default when maxAttempts
// <= 0). It stops at the first success, at the first non-retryable failure,
// or when attempts run out; the last failure is returned unchanged.
func (r *RetryHandler) Do(ctx context.Context, operation string, maxAttempts int, op func(ctx context.Context, attempt int) error) error {
	_, err := Retry(ctx, r, operation, maxAttempts, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Retry is the value-returning form of RetryHandler.Do.
func Retry[T any](ctx context.Context, r *RetryHandler, operation string, maxAttempts int, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = r.policy.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if attempt >= maxAttempts || !r.classifier.IsRetryable(err) {
			return result, err
		}

		delay := r.policy.Delay(attempt, r.random())
		class := r.classifier.Classify(err)
		r.logger.Warn("retrying after transient failure",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"code", class.Code,
			"delay_ms", delay.Milliseconds(),
			"error", err)
		r.metrics.IncRetry(operation, class.Code)

		if serr := r.sleep(ctx, delay); serr != nil {
			// cancelled while backing off: surface the operation's failure
			return result, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cryptoRandomUnitFloat64() float64 {
	var randomBytes [8]byte
	if _, err := cryptorand.Read(randomBytes[:]); err != nil {
		return 0
	}

	const mantissaDenominator = 1 << 53
	// Keep the top 53 bits for uniform mapping into [0, 1).
	mantissa := binary.BigEndian.Uint64(randomBytes[:]) >> 11
	return float64(mantissa) / float64(mantissaDenominator)
}
