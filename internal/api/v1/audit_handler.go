package v1

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	"bar-crm/internal/service"
)

type AuditHandler struct {
	auditService *service.AuditService
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func RegisterAuditRoutes(group *gin.RouterGroup, auditService *service.AuditService) {
	if auditService == nil {
		return
	}

	handler := NewAuditHandler(auditService)
	group.GET("/audit", handler.List)
}

// List
// @Summary Browse the audit trail
// @Tags audit
// @Produce json
// @Security BearerAuth
// @Param actor_id query string false "actor, e.g. admin:42 or system:scheduler"
// @Param resource_type query string false "points_account or conversion_rule"
// @Param resource_id query string false "resource id"
// @Param action query string false "event name"
// @Param from query string false "RFC3339 or YYYY-MM-DD"
// @Param to query string false "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} response.Response
// @Router /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	page, pageSize, window := pageFromQuery(c)

	filter := service.AuditFilter{}
	if raw := strings.TrimSpace(c.Query("actor_id")); raw != "" {
		filter.ActorID = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_type")); raw != "" {
		filter.ResourceType = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_id")); raw != "" {
		filter.ResourceID = &raw
	}
	if raw := strings.TrimSpace(c.Query("action")); raw != "" {
		filter.Action = &raw
	}

	from, err := parseAuditTime(c.Query("from"))
	if err != nil {
		badRequest(c, "invalid from")
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	to, err := parseAuditTime(c.Query("to"))
	if err != nil {
		badRequest(c, "invalid to")
		return
	}
	if !to.IsZero() {
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		badRequest(c, "to must not be before from")
		return
	}

	items, err := h.auditService.List(c.Request.Context(), filter, window)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"has_more":  len(items) == pageSize,
	})
}

func parseAuditTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, errors.New("invalid time")
}
