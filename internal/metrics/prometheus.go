package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PointsEarnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_earned_total",
		Help: "Points credited to member accounts by source",
	}, []string{"source"})

	PointsDeductedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_deducted_total",
		Help: "Points deducted from member accounts",
	})

	IntakeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_intake_events_total",
		Help: "Consumed transaction and survey events by outcome",
	}, []string{"event", "outcome"})

	ConcurrentModifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_concurrent_modifications_total",
		Help: "Writes rejected by the optimistic version check",
	}, []string{"aggregate"})

	CorruptedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_corrupted_records_total",
		Help: "Persisted rows refused on rehydration",
	}, []string{"entity"})

	RecalculationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_recalculation_runs_total",
		Help: "Batch recalculation runs by result",
	}, []string{"result"})

	RecalculationAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_recalculation_accounts_total",
		Help: "Accounts processed by batch recalculation by outcome",
	}, []string{"outcome"})

	RecalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "points_recalculation_duration_seconds",
		Help:    "Wall time of a batch recalculation",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	PointsAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "points_accounts",
		Help: "Current number of points accounts",
	})

	ActiveConversionRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "points_active_conversion_rules",
		Help: "Current number of active conversion rules",
	})
)

func AddPointsEarned(source string, amount int64) {
	if amount <= 0 {
		return
	}
	PointsEarnedTotal.WithLabelValues(labelOrUnknown(source)).Add(float64(amount))
}

func AddPointsDeducted(amount int64) {
	if amount <= 0 {
		return
	}
	PointsDeductedTotal.Add(float64(amount))
}

func IncIntakeEvent(event, outcome string) {
	IntakeEventsTotal.WithLabelValues(labelOrUnknown(event), labelOrUnknown(outcome)).Inc()
}

func IncConcurrentModification(aggregate string) {
	ConcurrentModifications.WithLabelValues(labelOrUnknown(aggregate)).Inc()
}

func IncCorruptedRecord(entity string) {
	CorruptedRecords.WithLabelValues(labelOrUnknown(entity)).Inc()
}

func IncRecalculationRun(result string) {
	RecalculationRuns.WithLabelValues(labelOrUnknown(result)).Inc()
}

func AddRecalculationAccounts(outcome string, count int) {
	if count <= 0 {
		return
	}
	RecalculationAccounts.WithLabelValues(labelOrUnknown(outcome)).Add(float64(count))
}

func ObserveRecalculationDuration(duration time.Duration) {
	RecalculationDuration.Observe(duration.Seconds())
}

func SetPointsAccounts(count int64) {
	if count < 0 {
		count = 0
	}
	PointsAccounts.Set(float64(count))
}

func SetActiveConversionRules(count int) {
	if count < 0 {
		count = 0
	}
	ActiveConversionRules.Set(float64(count))
}

func labelOrUnknown(value string) string {
	label := strings.TrimSpace(value)
	if label == "" {
		return "unknown"
	}
	return label
}
