package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepPageSize = 100

// Retention periodically deletes archived runs older than MaxAge.
type Retention struct {
	history  History
	maxAge   time.Duration
	cronExpr string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetention creates a retention sweeper. The cron expression uses the
// standard five-field format.
func NewRetention(history History, cronExpr string, maxAge time.Duration, logger *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}

	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid retention cron expression: %w", err)
	}

	return &Retention{
		history:  history,
		maxAge:   maxAge,
		cronExpr: cronExpr,
		logger:   logger.With("module", "retention", "cron", cronExpr, "max_age", maxAge.String()),
		now:      time.Now,
	}, nil
}

// Start schedules the sweep. Sweeps that overlap a still-running one are
// skipped.
func (r *Retention) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting retention sweeper")

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.cronExpr, func() {
		if err := r.Sweep(context.Background()); err != nil {
			r.logger.Error("Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	r.cron.Start()

	return nil
}

// Sweep deletes every archived run created before now minus MaxAge.
func (r *Retention) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.maxAge)
	deleted := 0
	offset := 0

	for {
		result, err := r.history.Runs(ctx, ListOptions{Limit: sweepPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("failed to list runs for sweep: %w", err)
		}

		for _, record := range result.Runs {
			if !record.CreatedAt.Before(cutoff) {
				offset++

				continue
			}

			if err := r.history.DeleteRun(ctx, record.ID); err != nil {
				if IsRunNotFound(err) {
					continue
				}

				return fmt.Errorf("failed to delete run %s: %w", record.ID, err)
			}

			deleted++
		}

		if !result.HasNextPage {
			break
		}
	}

	if deleted > 0 {
		r.logger.InfoContext(ctx, "Retention sweep completed", "deleted", deleted, "cutoff", cutoff)
	}

	return nil
}

func (r *Retention) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping retention sweeper")

	if r.cron != nil {
		r.cron.Stop()
	}

	return nil
}
