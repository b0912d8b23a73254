package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

// SurveyBonusPoints is added once per transaction whose survey was completed.
const SurveyBonusPoints int64 = 1

// ConversionRuleLookup resolves the single active rule for a calendar date.
// It returns repository.ErrNotFound when no rule applies.
type ConversionRuleLookup interface {
	FindActiveRuleAt(ctx context.Context, date time.Time) (*model.ConversionRule, error)
}

type PointsBreakdown struct {
	RuleID      model.RuleID       `json:"rule_id"`
	Rate        int                `json:"rate"`
	Base        model.PointsAmount `json:"base"`
	SurveyBonus model.PointsAmount `json:"survey_bonus"`
	Total       model.PointsAmount `json:"total"`
}

type PointsCalculationService struct {
	rules  ConversionRuleLookup
	logger *zap.Logger
}

func NewPointsCalculationService(rules ConversionRuleLookup, logger *zap.Logger) *PointsCalculationService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PointsCalculationService{
		rules:  rules,
		logger: logger,
	}
}

// WithLookup returns a calculator reading rules from lookup instead, e.g. a
// RuleSchedule pinned for one batch.
func (s *PointsCalculationService) WithLookup(lookup ConversionRuleLookup) *PointsCalculationService {
	return &PointsCalculationService{rules: lookup, logger: s.logger}
}

func (s *PointsCalculationService) CalculateForTransaction(ctx context.Context, tx model.CalculableTransaction) (model.PointsAmount, error) {
	breakdown, err := s.Breakdown(ctx, tx)
	if err != nil {
		return model.ZeroPoints, err
	}
	return breakdown.Total, nil
}

func (s *PointsCalculationService) Breakdown(ctx context.Context, tx model.CalculableTransaction) (PointsBreakdown, error) {
	if tx == nil {
		return PointsBreakdown{}, fmt.Errorf("%w: transaction is required", model.ErrValidation)
	}
	if s.rules == nil {
		return PointsBreakdown{}, errors.New("conversion rule lookup is nil")
	}

	date := tx.TransactionDate()
	rule, err := s.rules.FindActiveRuleAt(ctx, date)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && rule == nil) {
		return PointsBreakdown{}, &model.NoApplicableRuleError{Date: date}
	}
	if err != nil {
		return PointsBreakdown{}, fmt.Errorf("find active rule at %s: %w", date.Format(model.DateLayout), err)
	}

	base := rule.Rate().CalculatePoints(tx.Amount())
	bonus := model.ZeroPoints
	if tx.SurveyCompleted() {
		bonus, _ = model.NewPointsAmount(SurveyBonusPoints)
	}

	return PointsBreakdown{
		RuleID:      rule.ID(),
		Rate:        rule.Rate().Value(),
		Base:        base,
		SurveyBonus: bonus,
		Total:       base.Add(bonus),
	}, nil
}

// Bind adapts the service to the aggregate's calculator port for one request.
func (s *PointsCalculationService) Bind(ctx context.Context) model.PointsCalculator {
	return model.PointsCalculatorFunc(func(tx model.CalculableTransaction) (model.PointsAmount, error) {
		return s.CalculateForTransaction(ctx, tx)
	})
}

// RuleSchedule is an immutable snapshot of the active rules. A batch
// recalculation reads it instead of the store so every account is computed
// against the same schedule.
type RuleSchedule struct {
	rules []*model.ConversionRule
}

var _ ConversionRuleLookup = (*RuleSchedule)(nil)

func NewRuleSchedule(rules []*model.ConversionRule) *RuleSchedule {
	active := make([]*model.ConversionRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil && rule.IsActive() {
			active = append(active, rule)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].DateRange().Start().Before(active[j].DateRange().Start())
	})
	return &RuleSchedule{rules: active}
}

func (s *RuleSchedule) FindActiveRuleAt(_ context.Context, date time.Time) (*model.ConversionRule, error) {
	day := model.NormalizeDate(date)
	idx := sort.Search(len(s.rules), func(i int) bool {
		return s.rules[i].DateRange().Start().After(day)
	})
	for i := idx - 1; i >= 0; i-- {
		if s.rules[i].IsApplicableAt(day) {
			return s.rules[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *RuleSchedule) Len() int {
	return len(s.rules)
}
