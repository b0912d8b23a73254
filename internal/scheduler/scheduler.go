package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bar-crm/internal/service"
)

const (
	DefaultRecalculationSpec = "0 0 4 * * *"
	specGaugeRefresh         = "0 */5 * * * *"
)

type RecalculationTask interface {
	RecalculateAll()
}

type GaugeTask interface {
	Refresh()
}

type Deps struct {
	RecalculationJob RecalculationTask
	GaugeJob         GaugeTask
	Alerts           service.Alerter
}

type Options struct {
	// RecalculationSpec is a six-field cron expression evaluated in UTC.
	RecalculationSpec string
}

// NewScheduler wires the periodic jobs. A job is registered only when its
// dependency is set; an invalid expression fails construction.
func NewScheduler(opts Options, deps Deps, logger *zap.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)

	if deps.RecalculationJob != nil {
		spec := strings.TrimSpace(opts.RecalculationSpec)
		if spec == "" {
			spec = DefaultRecalculationSpec
		}
		if err := addFunc(c, spec, "points.recalculate_all", logger, deps.Alerts, deps.RecalculationJob.RecalculateAll); err != nil {
			return nil, err
		}
	}
	if deps.GaugeJob != nil {
		if err := addFunc(c, specGaugeRefresh, "metrics.refresh_gauges", logger, deps.Alerts, deps.GaugeJob.Refresh); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Stop waits for running jobs up to ctx's deadline.
func Stop(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, alerts service.Alerter, fn func()) error {
	if c == nil || fn == nil {
		return nil
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger, alerts)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		return fmt.Errorf("register scheduler job %s with spec %q: %w", name, spec, err)
	}
	return nil
}

func recoverJobPanic(jobName string, logger *zap.Logger, alerts service.Alerter) {
	recovered := recover()
	if recovered == nil {
		return
	}

	if logger != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
	if alerts != nil {
		_ = alerts.Notify(context.Background(), service.AlertPanicRecovered, map[string]string{
			"where": "scheduler job " + jobName,
			"value": fmt.Sprint(recovered),
		})
	}
}

// cronLogger routes cron's own messages (skipped runs) into zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
