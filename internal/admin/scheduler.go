package admin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"procgate/internal/logging"
)

// Scheduler reloads the configuration on a fixed interval and drops every
// cached decision. It covers deployments where the admin layer writes to
// the config tables without calling the hooks.
type Scheduler struct {
	handler  *Handler
	interval time.Duration
	logger   *slog.Logger

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(h *Handler, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		handler:  h,
		interval: interval,
		logger:   logging.OrDiscard(logger).With("component", "reload_scheduler"),
	}
}

// Start begins the background ticker. A non-positive interval disables it.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run()
	s.logger.Info("reload scheduler started", "interval", s.interval.String())
}

// Stop halts the ticker and waits for an in-flight reload.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.tick(context.Background())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	snap, err := s.handler.reload(ctx, s.handler.invalidator.InvalidateAll)
	if err != nil {
		s.logger.Error("scheduled reload failed", "error", err)
		return
	}
	s.logger.Debug("scheduled reload", "version", snap.Version)
}
