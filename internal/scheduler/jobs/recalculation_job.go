package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"bar-crm/internal/service"
)

const defaultRecalculationTimeout = 30 * time.Minute

type RecalculationRunner interface {
	RecalculateAll(ctx context.Context, opts service.RecalculationOptions) (*service.RecalculationReport, error)
}

// RecalculationJob is the unattended batch run. It never forces: a blocked
// batch is left for an operator, who gets the alert from the service.
type RecalculationJob struct {
	runner   RecalculationRunner
	timeout  time.Duration
	pageSize int
	logger   *zap.Logger
}

func NewRecalculationJob(runner RecalculationRunner, timeout time.Duration, pageSize int, logger *zap.Logger) *RecalculationJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultRecalculationTimeout
	}

	return &RecalculationJob{
		runner:   runner,
		timeout:  timeout,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (j *RecalculationJob) RecalculateAll() {
	if j == nil || j.runner == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	ctx = service.WithActor(ctx, service.ActorScheduler)

	report, err := j.runner.RecalculateAll(ctx, service.RecalculationOptions{PageSize: j.pageSize})
	switch {
	case err == nil:
		j.logger.Info("scheduled recalculation finished",
			zap.Int("total", report.Total),
			zap.Int("updated", report.Updated),
		)
	case errors.Is(err, service.ErrRecalculationInProgress):
		j.logger.Info("scheduled recalculation skipped, another run holds the lock")
	case errors.Is(err, service.ErrRecalculationBlocked):
		j.logger.Warn("scheduled recalculation blocked", zap.Error(err))
	default:
		fields := []zap.Field{zap.Error(err)}
		if report != nil {
			fields = append(fields, zap.Int("processed", report.Total), zap.Bool("cancelled", report.Cancelled))
		}
		j.logger.Error("scheduled recalculation failed", fields...)
	}
}
