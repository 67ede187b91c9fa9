package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
)

// Sweeper runs the timeout pass on a fixed tick. A single goroutine
// executes the passes sequentially, so a sweep never overlaps with
// itself; every due row is still re-checked under the request's row
// lock, which keeps the pass idempotent against live decisions.
type Sweeper struct {
	service *Service
	logger  *zap.Logger
	done    chan struct{}
}

// NewSweeper creates a new timeout sweeper around the dispatch service
func NewSweeper(service *Service, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		service: service,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins the sweep loop and blocks until the context is
// canceled or Stop is called. Run it on its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.service.Config().SweepInterval
	s.logger.Info("Starting timeout sweeper", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Timeout sweeper stopped")
			return
		case <-s.done:
			s.logger.Info("Timeout sweeper shutdown requested")
			return
		}
	}
}

// Stop gracefully stops the sweeper
func (s *Sweeper) Stop() {
	close(s.done)
}

// sweep runs one pass; failures are logged and retried on the next
// tick.
func (s *Sweeper) sweep(ctx context.Context) {
	var expired, promoted int
	err := tracing.TraceBusinessLogic(ctx, tracerName, "dispatch.sweep", nil, func(ctx context.Context) error {
		var sweepErr error
		expired, promoted, sweepErr = s.service.SweepOnce(ctx)
		return sweepErr
	})
	if err != nil {
		s.logger.Error("Sweep pass failed", zap.Error(err))
		return
	}
	if expired > 0 || promoted > 0 {
		s.logger.Info("Sweep pass finished",
			zap.Int("expired", expired),
			zap.Int("promoted", promoted))
	}
}
