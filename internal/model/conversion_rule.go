package model

import (
	"fmt"
	"strings"
	"time"
)

// ConversionRule is a time-bounded rate from currency to points. Whether it
// collides with other active rules is checked by the caller before
// construction or update; the rule cannot query its siblings.
type ConversionRule struct {
	eventRecorder

	id               RuleID
	rate             ConversionRate
	dateRange        DateRange
	description      string
	isActive         bool
	createdAt        time.Time
	updatedAt        time.Time
	deactivatedAt    *time.Time
	version          int
	persistedVersion int
}

type ConversionRuleSnapshot struct {
	ID            RuleID
	Rate          int
	StartDate     time.Time
	EndDate       time.Time
	Description   string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
	Version       int
}

func NewConversionRule(rate ConversionRate, dateRange DateRange, description string, now time.Time) (*ConversionRule, error) {
	if _, err := NewConversionRate(rate.Value()); err != nil {
		return nil, err
	}
	if _, err := NewDateRange(dateRange.Start(), dateRange.End()); err != nil {
		return nil, err
	}

	now = now.UTC()
	rule := &ConversionRule{
		id:          NewRuleID(),
		rate:        rate,
		dateRange:   dateRange,
		description: strings.TrimSpace(description),
		isActive:    true,
		createdAt:   now,
		updatedAt:   now,
		version:     1,
	}
	rule.record(ConversionRuleCreated{
		RuleID:    rule.id.String(),
		Rate:      rate.Value(),
		StartDate: dateRange.Start().Format(DateLayout),
		EndDate:   dateRange.End().Format(DateLayout),
		At:        now,
	})
	return rule, nil
}

func ReconstructConversionRule(s ConversionRuleSnapshot) (*ConversionRule, error) {
	corrupted := func(reason string) error {
		return &CorruptedDataError{Entity: "conversion_rule", ID: s.ID.String(), Reason: reason}
	}

	if s.ID.IsZero() {
		return nil, corrupted("missing rule id")
	}
	rate, err := NewConversionRate(s.Rate)
	if err != nil {
		return nil, corrupted(fmt.Sprintf("rate=%d out of range", s.Rate))
	}
	dateRange, err := NewDateRange(s.StartDate, s.EndDate)
	if err != nil {
		return nil, corrupted("start_date after end_date")
	}
	switch {
	case s.IsActive && s.DeactivatedAt != nil:
		return nil, corrupted("active rule carries a deactivation timestamp")
	case !s.IsActive && s.DeactivatedAt == nil:
		return nil, corrupted("inactive rule has no deactivation timestamp")
	case s.Version < 1:
		return nil, corrupted(fmt.Sprintf("version=%d is below 1", s.Version))
	}

	var deactivatedAt *time.Time
	if s.DeactivatedAt != nil {
		ts := s.DeactivatedAt.UTC()
		deactivatedAt = &ts
	}

	return &ConversionRule{
		id:               s.ID,
		rate:             rate,
		dateRange:        dateRange,
		description:      s.Description,
		isActive:         s.IsActive,
		createdAt:        s.CreatedAt.UTC(),
		updatedAt:        s.UpdatedAt.UTC(),
		deactivatedAt:    deactivatedAt,
		version:          s.Version,
		persistedVersion: s.Version,
	}, nil
}

func (r *ConversionRule) ID() RuleID               { return r.id }
func (r *ConversionRule) Rate() ConversionRate     { return r.rate }
func (r *ConversionRule) DateRange() DateRange     { return r.dateRange }
func (r *ConversionRule) Description() string      { return r.description }
func (r *ConversionRule) IsActive() bool           { return r.isActive }
func (r *ConversionRule) CreatedAt() time.Time     { return r.createdAt }
func (r *ConversionRule) UpdatedAt() time.Time     { return r.updatedAt }
func (r *ConversionRule) Version() int             { return r.version }
func (r *ConversionRule) PersistedVersion() int    { return r.persistedVersion }
func (r *ConversionRule) IsNew() bool              { return r.persistedVersion == 0 }
func (r *ConversionRule) DeactivatedAt() *time.Time {
	if r.deactivatedAt == nil {
		return nil
	}
	ts := *r.deactivatedAt
	return &ts
}

func (r *ConversionRule) MarkPersisted() {
	r.persistedVersion = r.version
	r.ClearEvents()
}

func (r *ConversionRule) IsApplicableAt(date time.Time) bool {
	return r.isActive && r.dateRange.Contains(date)
}

// Update changes the rate schedule of an active rule. Earned points are not
// touched; a recalculation reconciles them.
func (r *ConversionRule) Update(rate ConversionRate, dateRange DateRange, description string, now time.Time) error {
	if !r.isActive {
		return ErrRuleAlreadyInactive
	}
	if _, err := NewConversionRate(rate.Value()); err != nil {
		return err
	}
	if _, err := NewDateRange(dateRange.Start(), dateRange.End()); err != nil {
		return err
	}

	now = now.UTC()
	old := r.dateRange
	oldRate := r.rate
	r.rate = rate
	r.dateRange = dateRange
	r.description = strings.TrimSpace(description)
	r.version++
	r.updatedAt = now
	r.record(ConversionRuleUpdated{
		RuleID:       r.id.String(),
		OldRate:      oldRate.Value(),
		NewRate:      rate.Value(),
		OldStartDate: old.Start().Format(DateLayout),
		OldEndDate:   old.End().Format(DateLayout),
		NewStartDate: dateRange.Start().Format(DateLayout),
		NewEndDate:   dateRange.End().Format(DateLayout),
		At:           now,
	})
	return nil
}

// Deactivate is one-way.
func (r *ConversionRule) Deactivate(now time.Time) error {
	if !r.isActive {
		return ErrRuleAlreadyInactive
	}

	now = now.UTC()
	r.isActive = false
	r.deactivatedAt = &now
	r.version++
	r.updatedAt = now
	r.record(ConversionRuleDeactivated{
		RuleID: r.id.String(),
		At:     now,
	})
	return nil
}

func (r *ConversionRule) Snapshot() ConversionRuleSnapshot {
	return ConversionRuleSnapshot{
		ID:            r.id,
		Rate:          r.rate.Value(),
		StartDate:     r.dateRange.Start(),
		EndDate:       r.dateRange.End(),
		Description:   r.description,
		IsActive:      r.isActive,
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
		DeactivatedAt: r.DeactivatedAt(),
		Version:       r.version,
	}
}
