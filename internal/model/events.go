package model

import "time"

const (
	EventAccountCreated            = "points.account.created"
	EventPointsEarned              = "points.earned"
	EventPointsDeducted            = "points.deducted"
	EventPointsRecalculated        = "points.recalculated"
	EventConversionRuleCreated     = "conversion_rule.created"
	EventConversionRuleUpdated     = "conversion_rule.updated"
	EventConversionRuleDeactivated = "conversion_rule.deactivated"
)

var AllEventNames = []string{
	EventAccountCreated,
	EventPointsEarned,
	EventPointsDeducted,
	EventPointsRecalculated,
	EventConversionRuleCreated,
	EventConversionRuleUpdated,
	EventConversionRuleDeactivated,
}

// DomainEvent is recorded by an aggregate and published only after the write
// that produced it has committed.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

type AccountCreated struct {
	AccountID string    `json:"account_id"`
	MemberID  string    `json:"member_id"`
	At        time.Time `json:"occurred_at"`
}

func (e AccountCreated) EventName() string     { return EventAccountCreated }
func (e AccountCreated) AggregateID() string   { return e.AccountID }
func (e AccountCreated) OccurredAt() time.Time { return e.At }

type PointsEarned struct {
	AccountID   string       `json:"account_id"`
	MemberID    string       `json:"member_id"`
	Amount      int64        `json:"amount"`
	Source      PointsSource `json:"source"`
	SourceID    string       `json:"source_id"`
	Description string       `json:"description"`
	EarnedAfter int64        `json:"earned_after"`
	UsedAfter   int64        `json:"used_after"`
	Version     int          `json:"version"`
	At          time.Time    `json:"occurred_at"`
}

func (e PointsEarned) EventName() string     { return EventPointsEarned }
func (e PointsEarned) AggregateID() string   { return e.AccountID }
func (e PointsEarned) OccurredAt() time.Time { return e.At }

type PointsDeducted struct {
	AccountID   string    `json:"account_id"`
	MemberID    string    `json:"member_id"`
	Amount      int64     `json:"amount"`
	Reason      string    `json:"reason"`
	EarnedAfter int64     `json:"earned_after"`
	UsedAfter   int64     `json:"used_after"`
	Version     int       `json:"version"`
	At          time.Time `json:"occurred_at"`
}

func (e PointsDeducted) EventName() string     { return EventPointsDeducted }
func (e PointsDeducted) AggregateID() string   { return e.AccountID }
func (e PointsDeducted) OccurredAt() time.Time { return e.At }

type PointsRecalculated struct {
	AccountID string    `json:"account_id"`
	MemberID  string    `json:"member_id"`
	OldEarned int64     `json:"old_earned"`
	NewEarned int64     `json:"new_earned"`
	UsedAfter int64     `json:"used_after"`
	Version   int       `json:"version"`
	At        time.Time `json:"occurred_at"`
}

func (e PointsRecalculated) EventName() string     { return EventPointsRecalculated }
func (e PointsRecalculated) AggregateID() string   { return e.AccountID }
func (e PointsRecalculated) OccurredAt() time.Time { return e.At }

type ConversionRuleCreated struct {
	RuleID    string    `json:"rule_id"`
	Rate      int       `json:"rate"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	At        time.Time `json:"occurred_at"`
}

func (e ConversionRuleCreated) EventName() string     { return EventConversionRuleCreated }
func (e ConversionRuleCreated) AggregateID() string   { return e.RuleID }
func (e ConversionRuleCreated) OccurredAt() time.Time { return e.At }

type ConversionRuleUpdated struct {
	RuleID       string    `json:"rule_id"`
	OldRate      int       `json:"old_rate"`
	NewRate      int       `json:"new_rate"`
	OldStartDate string    `json:"old_start_date"`
	OldEndDate   string    `json:"old_end_date"`
	NewStartDate string    `json:"new_start_date"`
	NewEndDate   string    `json:"new_end_date"`
	At           time.Time `json:"occurred_at"`
}

func (e ConversionRuleUpdated) EventName() string     { return EventConversionRuleUpdated }
func (e ConversionRuleUpdated) AggregateID() string   { return e.RuleID }
func (e ConversionRuleUpdated) OccurredAt() time.Time { return e.At }

type ConversionRuleDeactivated struct {
	RuleID string    `json:"rule_id"`
	At     time.Time `json:"occurred_at"`
}

func (e ConversionRuleDeactivated) EventName() string     { return EventConversionRuleDeactivated }
func (e ConversionRuleDeactivated) AggregateID() string   { return e.RuleID }
func (e ConversionRuleDeactivated) OccurredAt() time.Time { return e.At }

type eventRecorder struct {
	pending []DomainEvent
}

func (r *eventRecorder) record(e DomainEvent) {
	r.pending = append(r.pending, e)
}

func (r *eventRecorder) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

func (r *eventRecorder) ClearEvents() {
	r.pending = nil
}
