package maintenance

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"uid-whitelist/internal/observability"
)

const sweepTimeout = time.Minute

// Sweeper runs a Job on a fixed interval. A failed pass is retried on the next tick.
type Sweeper struct {
	job      *Job
	interval time.Duration
	logger   *observability.Logger
}

func NewSweeper(job *Job, interval time.Duration, logger *observability.Logger) *Sweeper {
	return &Sweeper{job: job, interval: interval, logger: logger}
}

// Run blocks until ctx ends. A non-positive interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("maintenance_sweeper_disabled", nil)
		return nil
	}

	s.logger.Info("maintenance_sweeper_started", map[string]any{"interval": s.interval.String()})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	result, err := s.job.Run(ctx)
	if err != nil {
		sentry.CaptureException(err)
		s.logger.Error("maintenance_sweep_failed", map[string]any{"error": err.Error()})
		return
	}

	if result != (Result{}) {
		s.logger.Info("maintenance_sweep_completed", result.fields())
	}
}
