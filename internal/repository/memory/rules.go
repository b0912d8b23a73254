package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type ruleRepository struct {
	store *Store
}

var _ repository.ConversionRuleRepository = (*ruleRepository)(nil)

func (r *ruleRepository) FindByID(ctx context.Context, id model.RuleID) (*model.ConversionRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	snapshot, ok := r.store.rules[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return model.ReconstructConversionRule(snapshot)
}

func (r *ruleRepository) FindActiveRuleAt(ctx context.Context, date time.Time) (*model.ConversionRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	day := model.NormalizeDate(date)
	matches := r.filter(func(s model.ConversionRuleSnapshot) bool {
		return s.IsActive && !day.Before(s.StartDate) && !day.After(s.EndDate)
	})
	if len(matches) == 0 {
		return nil, repository.ErrNotFound
	}
	return model.ReconstructConversionRule(matches[len(matches)-1])
}

func (r *ruleRepository) FindOverlapping(ctx context.Context, dateRange model.DateRange, excludeRuleID *model.RuleID) ([]*model.ConversionRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := r.filter(func(s model.ConversionRuleSnapshot) bool {
		if !s.IsActive {
			return false
		}
		if excludeRuleID != nil && s.ID == *excludeRuleID {
			return false
		}
		return !s.StartDate.After(dateRange.End()) && !dateRange.Start().After(s.EndDate)
	})
	return reconstructRules(matches)
}

func (r *ruleRepository) Create(ctx context.Context, rule *model.ConversionRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule is required", model.ErrValidation)
	}

	snapshot := rule.Snapshot()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.rules[snapshot.ID]; exists {
		return model.ErrConcurrentModification
	}
	if r.store.sharesActiveDayLocked(snapshot) {
		return model.ErrRuleDateRangeOverlap
	}
	r.store.rules[snapshot.ID] = snapshot
	return nil
}

func (r *ruleRepository) UpdateWithOptimisticLock(ctx context.Context, rule *model.ConversionRule, expectedPreviousVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule is required", model.ErrValidation)
	}

	snapshot := rule.Snapshot()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.rules[snapshot.ID]
	if !ok || current.Version != expectedPreviousVersion {
		return model.ErrConcurrentModification
	}
	if r.store.sharesActiveDayLocked(snapshot) {
		return model.ErrRuleDateRangeOverlap
	}
	r.store.rules[snapshot.ID] = snapshot
	return nil
}

func (r *ruleRepository) FindAll(ctx context.Context, page repository.Pagination) ([]*model.ConversionRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := r.filter(nil)
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartDate.After(all[j].StartDate) })
	return reconstructRules(paginate(all, page))
}

func (r *ruleRepository) FindAllActive(ctx context.Context) ([]*model.ConversionRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return reconstructRules(r.filter(func(s model.ConversionRuleSnapshot) bool { return s.IsActive }))
}

func (r *ruleRepository) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.rules)), nil
}

// filter returns matching snapshots ordered by start date.
func (r *ruleRepository) filter(keep func(model.ConversionRuleSnapshot) bool) []model.ConversionRuleSnapshot {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]model.ConversionRuleSnapshot, 0, len(r.store.rules))
	for _, snapshot := range r.store.rules {
		if keep == nil || keep(snapshot) {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// sharesActiveDayLocked mirrors the exclusion constraint on active rules.
func (s *Store) sharesActiveDayLocked(candidate model.ConversionRuleSnapshot) bool {
	if !candidate.IsActive {
		return false
	}
	for id, existing := range s.rules {
		if id == candidate.ID || !existing.IsActive {
			continue
		}
		if !existing.StartDate.After(candidate.EndDate) && !candidate.StartDate.After(existing.EndDate) {
			return true
		}
	}
	return false
}

func reconstructRules(snapshots []model.ConversionRuleSnapshot) ([]*model.ConversionRule, error) {
	out := make([]*model.ConversionRule, 0, len(snapshots))
	for _, snapshot := range snapshots {
		rule, err := model.ReconstructConversionRule(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}
