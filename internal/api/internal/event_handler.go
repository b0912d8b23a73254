package internalapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bar-crm/internal/api/response"
	"bar-crm/internal/model"
	"bar-crm/internal/service"
)

// PointsIntake is the slice of the points service the event endpoints drive.
type PointsIntake interface {
	HandleTransactionVerified(ctx context.Context, in service.TransactionVerifiedInput) (*service.IntakeResult, error)
	HandleSurveyRewardGranted(ctx context.Context, in service.SurveyRewardInput) (*service.IntakeResult, error)
}

type EventHandler struct {
	intake PointsIntake
}

type transactionVerifiedRequest struct {
	TransactionID   string          `json:"transaction_id" binding:"required"`
	MemberID        string          `json:"member_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	InvoiceDate     string          `json:"invoice_date" binding:"required"`
	SurveySubmitted bool            `json:"survey_submitted"`
}

type surveyRewardRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	MemberID      string `json:"member_id" binding:"required"`
}

func NewEventHandler(intake PointsIntake) *EventHandler {
	return &EventHandler{intake: intake}
}

// RegisterEventRoutes mounts the consumer side of the invoice and survey
// contexts. Callers authenticate the group; guards run per route.
func RegisterEventRoutes(group *gin.RouterGroup, intake PointsIntake, guards ...gin.HandlerFunc) {
	handler := NewEventHandler(intake)
	events := group.Group("/v1/events", guards...)

	events.POST("/transaction-verified", handler.TransactionVerified)
	events.POST("/survey-reward-granted", handler.SurveyRewardGranted)
}

func (h *EventHandler) TransactionVerified(c *gin.Context) {
	var req transactionVerifiedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request body")
		return
	}

	invoiceDate, err := parseInvoiceDate(req.InvoiceDate)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid invoice_date")
		return
	}

	result, err := h.intake.HandleTransactionVerified(c.Request.Context(), service.TransactionVerifiedInput{
		TransactionID:   strings.TrimSpace(req.TransactionID),
		MemberID:        strings.TrimSpace(req.MemberID),
		Amount:          req.Amount,
		InvoiceDate:     invoiceDate,
		SurveySubmitted: req.SurveySubmitted,
	})
	if err != nil {
		handleIntakeError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *EventHandler) SurveyRewardGranted(c *gin.Context) {
	var req surveyRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request body")
		return
	}

	result, err := h.intake.HandleSurveyRewardGranted(c.Request.Context(), service.SurveyRewardInput{
		TransactionID: strings.TrimSpace(req.TransactionID),
		MemberID:      strings.TrimSpace(req.MemberID),
	})
	if err != nil {
		handleIntakeError(c, err)
		return
	}
	response.Success(c, result)
}

// parseInvoiceDate accepts a calendar date or an RFC3339 timestamp. The
// timestamp's own offset decides the calendar day.
func parseInvoiceDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if date, err := model.ParseDate(value); err == nil {
		return date, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return model.NormalizeDate(ts), nil
}

// handleIntakeError tells the publisher whether a redelivery can help:
// 4xx means the event itself is wrong, 409 and 5xx are worth retrying.
func handleIntakeError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, service.ErrTransactionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTransactionNotFound, err.Error())
	case errors.Is(err, model.ErrConcurrency):
		response.Fail(c, http.StatusConflict, response.ErrConcurrentModification, err.Error())
	case errors.Is(err, model.ErrValidation):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, err.Error())
	case errors.Is(err, model.ErrBusinessRule):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrBusinessRule, err.Error())
	case errors.Is(err, model.ErrInvariant):
		response.Fail(c, http.StatusInternalServerError, response.ErrCorruptedData, "stored data failed integrity checks")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
