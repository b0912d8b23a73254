package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/metrics"
	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type CreateRuleInput struct {
	Rate        int    `json:"rate"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Description string `json:"description"`
}

type UpdateRuleInput struct {
	Rate            int    `json:"rate"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Description     string `json:"description"`
	ExpectedVersion int    `json:"expected_version"`
}

type RuleView struct {
	ID            string     `json:"id"`
	Rate          int        `json:"rate"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	Description   string     `json:"description"`
	IsActive      bool       `json:"is_active"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// RuleOverlapError lists the active rules a candidate range collides with.
type RuleOverlapError struct {
	Conflicts []string
}

func (e *RuleOverlapError) Error() string {
	return fmt.Sprintf("%s: conflicts with %s", model.ErrRuleDateRangeOverlap.Error(), strings.Join(e.Conflicts, ", "))
}

func (e *RuleOverlapError) Is(target error) bool {
	return target == model.ErrRuleDateRangeOverlap || target == model.ErrBusinessRule
}

// ConversionRuleService administers the rate schedule. Changing a rule never
// touches balances; a recalculation reconciles them.
type ConversionRuleService struct {
	rules    repository.ConversionRuleRepository
	eventBus *event.Bus
	logger   *zap.Logger
	now      func() time.Time
}

func NewConversionRuleService(rules repository.ConversionRuleRepository, eventBus *event.Bus, logger *zap.Logger) *ConversionRuleService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConversionRuleService{
		rules:    rules,
		eventBus: eventBus,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConversionRuleService) Create(ctx context.Context, in CreateRuleInput) (*RuleView, error) {
	rate, dateRange, err := parseRuleTerms(in.Rate, in.StartDate, in.EndDate)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoSharedDay(ctx, dateRange, nil); err != nil {
		return nil, err
	}

	rule, err := model.NewConversionRule(rate, dateRange, in.Description, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create conversion rule: %w", err)
	}
	s.publishAndSettle(ctx, rule)

	s.logger.Info("conversion rule created",
		zap.String("rule_id", rule.ID().String()),
		zap.Int("rate", rate.Value()),
		zap.String("range", dateRange.String()),
		zap.String("actor", ActorFromContext(ctx)),
	)
	view := toRuleView(rule)
	return &view, nil
}

// Update edits an active rule, possibly retroactively. ExpectedVersion, when
// set, must match the stored version.
func (s *ConversionRuleService) Update(ctx context.Context, ruleID string, in UpdateRuleInput) (*RuleView, error) {
	rule, err := s.find(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion > 0 && in.ExpectedVersion != rule.Version() {
		return nil, model.ErrConcurrentModification
	}

	rate, dateRange, err := parseRuleTerms(in.Rate, in.StartDate, in.EndDate)
	if err != nil {
		return nil, err
	}
	id := rule.ID()
	if err := s.ensureNoSharedDay(ctx, dateRange, &id); err != nil {
		return nil, err
	}

	if err := rule.Update(rate, dateRange, in.Description, s.now()); err != nil {
		return nil, err
	}
	if err := s.rules.UpdateWithOptimisticLock(ctx, rule, rule.PersistedVersion()); err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.IncConcurrentModification("conversion_rule")
		}
		return nil, fmt.Errorf("update conversion rule %s: %w", id, err)
	}
	s.publishAndSettle(ctx, rule)

	s.logger.Info("conversion rule updated",
		zap.String("rule_id", id.String()),
		zap.Int("rate", rate.Value()),
		zap.String("range", dateRange.String()),
		zap.String("actor", ActorFromContext(ctx)),
	)
	view := toRuleView(rule)
	return &view, nil
}

func (s *ConversionRuleService) Deactivate(ctx context.Context, ruleID string) (*RuleView, error) {
	rule, err := s.find(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := rule.Deactivate(s.now()); err != nil {
		return nil, err
	}
	if err := s.rules.UpdateWithOptimisticLock(ctx, rule, rule.PersistedVersion()); err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.IncConcurrentModification("conversion_rule")
		}
		return nil, fmt.Errorf("deactivate conversion rule %s: %w", rule.ID(), err)
	}
	s.publishAndSettle(ctx, rule)

	s.logger.Info("conversion rule deactivated",
		zap.String("rule_id", rule.ID().String()),
		zap.String("actor", ActorFromContext(ctx)),
	)
	view := toRuleView(rule)
	return &view, nil
}

func (s *ConversionRuleService) Get(ctx context.Context, ruleID string) (*RuleView, error) {
	rule, err := s.find(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	view := toRuleView(rule)
	return &view, nil
}

func (s *ConversionRuleService) List(ctx context.Context, page repository.Pagination) ([]RuleView, int64, error) {
	rules, err := s.rules.FindAll(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.rules.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	views := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, toRuleView(rule))
	}
	return views, total, nil
}

// ActiveAt returns the rule that applies on date, or ErrRuleNotFound.
func (s *ConversionRuleService) ActiveAt(ctx context.Context, date string) (*RuleView, error) {
	day, err := model.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return nil, err
	}
	rule, err := s.rules.FindActiveRuleAt(ctx, day)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	view := toRuleView(rule)
	return &view, nil
}

func (s *ConversionRuleService) find(ctx context.Context, ruleID string) (*model.ConversionRule, error) {
	id, err := model.ParseRuleID(ruleID)
	if err != nil {
		return nil, err
	}
	rule, err := s.rules.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ensureNoSharedDay rejects a range that shares any calendar day with another
// active rule. Touching boundaries count: Contains is inclusive, so two rules
// meeting on one day would both apply to it.
func (s *ConversionRuleService) ensureNoSharedDay(ctx context.Context, dateRange model.DateRange, exclude *model.RuleID) error {
	conflicts, err := s.rules.FindOverlapping(ctx, dateRange, exclude)
	if err != nil {
		return fmt.Errorf("check rule overlap: %w", err)
	}
	if len(conflicts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(conflicts))
	for _, rule := range conflicts {
		ids = append(ids, rule.ID().String()+" ("+rule.DateRange().String()+")")
	}
	return &RuleOverlapError{Conflicts: ids}
}

func (s *ConversionRuleService) publishAndSettle(ctx context.Context, rule *model.ConversionRule) {
	events := rule.PendingEvents()
	rule.MarkPersisted()
	s.eventBus.PublishEvents(ActorFromContext(ctx), events)
}

func parseRuleTerms(rawRate int, start, end string) (model.ConversionRate, model.DateRange, error) {
	rate, err := model.NewConversionRate(rawRate)
	if err != nil {
		return model.ConversionRate{}, model.DateRange{}, err
	}
	dateRange, err := model.ParseDateRange(strings.TrimSpace(start), strings.TrimSpace(end))
	if err != nil {
		return model.ConversionRate{}, model.DateRange{}, err
	}
	return rate, dateRange, nil
}

func toRuleView(rule *model.ConversionRule) RuleView {
	return RuleView{
		ID:            rule.ID().String(),
		Rate:          rule.Rate().Value(),
		StartDate:     rule.DateRange().Start().Format(model.DateLayout),
		EndDate:       rule.DateRange().End().Format(model.DateLayout),
		Description:   rule.Description(),
		IsActive:      rule.IsActive(),
		Version:       rule.Version(),
		CreatedAt:     rule.CreatedAt(),
		UpdatedAt:     rule.UpdatedAt(),
		DeactivatedAt: rule.DeactivatedAt(),
	}
}
