package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// GaugeJob refreshes the account and rule gauges from storage.
type GaugeJob struct {
	refresh func(ctx context.Context) error
	logger  *zap.Logger
}

func NewGaugeJob(refresh func(ctx context.Context) error, logger *zap.Logger) *GaugeJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GaugeJob{refresh: refresh, logger: logger}
}

func (j *GaugeJob) Refresh() {
	if j == nil || j.refresh == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := j.refresh(ctx); err != nil {
		j.logger.Warn("refresh gauges failed", zap.Error(err))
	}
}
