package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/metrics"
	"bar-crm/internal/repository"
)

// RegisterSubscribers wires the post-commit consumers of ledger events.
func RegisterSubscribers(bus *event.Bus, audit *AuditService, alerts Alerter, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bus.OnPanic = func(eventName string, recovered any) {
		logger.Error("event subscriber panicked", zap.String("event", eventName), zap.Any("panic", recovered))
		notifyQuietly(context.Background(), alerts, logger, AlertPanicRecovered, map[string]string{
			"where": "event subscriber " + eventName,
			"value": fmt.Sprint(recovered),
		})
	}

	if audit != nil {
		audit.Subscribe(bus)
	}
}

// RefreshGauges recomputes the account and active-rule gauges from the
// stores. The scheduler calls it periodically.
func RefreshGauges(ctx context.Context, accounts repository.PointsAccountBatchReader, rules repository.ConversionRuleBatchReader) error {
	count, err := accounts.Count(ctx)
	if err != nil {
		return fmt.Errorf("count points accounts: %w", err)
	}
	active, err := rules.FindAllActive(ctx)
	if err != nil {
		return fmt.Errorf("load active conversion rules: %w", err)
	}

	metrics.SetPointsAccounts(count)
	metrics.SetActiveConversionRules(len(active))
	return nil
}
