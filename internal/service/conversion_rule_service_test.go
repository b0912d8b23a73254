package service

import (
	"context"
	"errors"
	"testing"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

func TestConversionRuleService_RejectsOverlappingRule(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	a := env.createRule(t, 100, "2024-01-01", "2024-06-30")

	_, err := env.rules.Create(context.Background(), CreateRuleInput{Rate: 50, StartDate: "2024-06-01", EndDate: "2024-12-31"})
	if !errors.Is(err, model.ErrRuleDateRangeOverlap) {
		t.Fatalf("expected ErrRuleDateRangeOverlap, got %v", err)
	}
	var overlap *RuleOverlapError
	if !errors.As(err, &overlap) || len(overlap.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %v", err)
	}

	_, err = env.rules.Create(context.Background(), CreateRuleInput{Rate: 50, StartDate: "2024-06-30", EndDate: "2024-12-31"})
	if !errors.Is(err, model.ErrRuleDateRangeOverlap) {
		t.Fatalf("expected a rule sharing the boundary day to be rejected, got %v", err)
	}

	b, err := env.rules.Create(context.Background(), CreateRuleInput{Rate: 50, StartDate: "2024-07-01", EndDate: "2024-12-31"})
	if err != nil {
		t.Fatalf("adjacent rule should be accepted: %v", err)
	}

	active, err := env.rules.ActiveAt(context.Background(), "2024-06-30")
	if err != nil || active.ID != a.ID {
		t.Fatalf("expected rule A on 2024-06-30, got %+v err=%v", active, err)
	}
	active, err = env.rules.ActiveAt(context.Background(), "2024-07-01")
	if err != nil || active.ID != b.ID {
		t.Fatalf("expected rule B on 2024-07-01, got %+v err=%v", active, err)
	}
}

func TestConversionRuleService_CreateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cases := []CreateRuleInput{
		{Rate: 0, StartDate: "2024-01-01", EndDate: "2024-01-31"},
		{Rate: 1001, StartDate: "2024-01-01", EndDate: "2024-01-31"},
		{Rate: 10, StartDate: "2024-02-01", EndDate: "2024-01-31"},
		{Rate: 10, StartDate: "01/02/2024", EndDate: "2024-01-31"},
	}
	for i, in := range cases {
		if _, err := env.rules.Create(context.Background(), in); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestConversionRuleService_UpdateExcludesItself(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-06-30")
	env.createRule(t, 100, "2024-07-01", "2024-12-31")

	updated, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{
		Rate:            80,
		StartDate:       "2024-01-01",
		EndDate:         "2024-06-15",
		ExpectedVersion: rule.Version,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Rate != 80 || updated.EndDate != "2024-06-15" || updated.Version != rule.Version+1 {
		t.Fatalf("unexpected updated rule: %+v", updated)
	}

	_, err = env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 80, StartDate: "2024-01-01", EndDate: "2024-07-01"})
	if !errors.Is(err, model.ErrRuleDateRangeOverlap) {
		t.Fatalf("expected overlap with the second rule, got %v", err)
	}

	_, err = env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 90, StartDate: "2024-01-01", EndDate: "2024-06-15", ExpectedVersion: rule.Version})
	if !errors.Is(err, model.ErrConcurrentModification) {
		t.Fatalf("expected stale version to be rejected, got %v", err)
	}
}

func TestConversionRuleService_DeactivateFreesRange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")

	deactivated, err := env.rules.Deactivate(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if deactivated.IsActive || deactivated.DeactivatedAt == nil {
		t.Fatalf("expected inactive rule with timestamp, got %+v", deactivated)
	}

	if _, err := env.rules.Deactivate(context.Background(), rule.ID); !errors.Is(err, model.ErrRuleAlreadyInactive) {
		t.Fatalf("expected ErrRuleAlreadyInactive, got %v", err)
	}
	if _, err := env.rules.ActiveAt(context.Background(), "2024-03-01"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	env.createRule(t, 50, "2024-01-01", "2024-12-31")

	views, total, err := env.rules.List(context.Background(), repository.Pagination{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(views) != 2 {
		t.Fatalf("expected two rules, got total=%d len=%d", total, len(views))
	}
}

func TestConversionRuleService_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if _, err := env.rules.Get(context.Background(), model.NewRuleID().String()); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if _, err := env.rules.Get(context.Background(), "bad"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
