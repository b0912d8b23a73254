package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

const (
	auditListDefaultSize = 20
	auditListMaxPageSize = 200
	auditWriteTimeout    = 5 * time.Second
)

var (
	ErrInvalidAuditInput = errors.New("invalid audit input")
)

type AuditEntry struct {
	ActorID      string                 `json:"actor_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	OldValue     map[string]interface{} `json:"old_value,omitempty"`
	NewValue     map[string]interface{} `json:"new_value,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type AuditFilter struct {
	ActorID      *string    `json:"actor_id,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	Action       *string    `json:"action,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// AuditService writes the audit trail. Domain events reach it through the bus
// after commit, so an audit failure never rolls back a ledger write.
type AuditService struct {
	auditRepo repository.AuditRepository
	logger    *zap.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if s.auditRepo == nil {
		return errors.New("audit repository is nil")
	}

	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return ErrInvalidAuditInput
	}

	logItem := &model.AuditLog{
		ActorID:      trimAuditString(entry.ActorID),
		Action:       action,
		ResourceType: trimAuditString(entry.ResourceType),
		ResourceID:   trimAuditString(entry.ResourceID),
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		CreatedAt:    entry.CreatedAt.UTC(),
	}
	if entry.CreatedAt.IsZero() {
		logItem.CreatedAt = time.Now().UTC()
	}

	return s.auditRepo.Create(ctx, logItem)
}

func (s *AuditService) List(ctx context.Context, filter AuditFilter, page repository.Pagination) ([]*model.AuditLog, error) {
	if s.auditRepo == nil {
		return nil, errors.New("audit repository is nil")
	}

	if page.Limit <= 0 {
		page.Limit = auditListDefaultSize
	}
	if page.Limit > auditListMaxPageSize {
		page.Limit = auditListMaxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	return s.auditRepo.List(ctx, repository.AuditListFilter{
		ActorID:      trimAuditStringPtr(filter.ActorID),
		Action:       trimAuditStringPtr(filter.Action),
		ResourceType: trimAuditStringPtr(filter.ResourceType),
		ResourceID:   trimAuditStringPtr(filter.ResourceID),
		StartTime:    filter.From,
		EndTime:      filter.To,
		Pagination:   page,
	})
}

// Subscribe records every committed domain event published on bus.
func (s *AuditService) Subscribe(bus *event.Bus) {
	bus.SubscribeAll(s.handleEvent)
}

func (s *AuditService) handleEvent(payload any) {
	envelope, ok := payload.(event.Envelope)
	if !ok || envelope.Event == nil {
		return
	}

	entry := auditEntryForEvent(envelope)
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error("write audit log failed",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
	}
}

func auditEntryForEvent(envelope event.Envelope) AuditEntry {
	evt := envelope.Event
	entry := AuditEntry{
		ActorID:    envelope.ActorID,
		Action:     evt.EventName(),
		ResourceID: evt.AggregateID(),
		CreatedAt:  evt.OccurredAt(),
		NewValue:   eventToMap(evt),
	}

	switch e := evt.(type) {
	case model.AccountCreated, model.PointsEarned, model.PointsDeducted:
		entry.ResourceType = "points_account"
	case model.PointsRecalculated:
		entry.ResourceType = "points_account"
		entry.OldValue = map[string]interface{}{"earned_points": e.OldEarned}
	case model.ConversionRuleUpdated:
		entry.ResourceType = "conversion_rule"
		entry.OldValue = map[string]interface{}{
			"rate":       e.OldRate,
			"start_date": e.OldStartDate,
			"end_date":   e.OldEndDate,
		}
	case model.ConversionRuleCreated, model.ConversionRuleDeactivated:
		entry.ResourceType = "conversion_rule"
	}
	return entry
}

func eventToMap(evt model.DomainEvent) map[string]interface{} {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func trimAuditString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimAuditStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return trimAuditString(*v)
}
