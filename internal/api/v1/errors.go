package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	"bar-crm/internal/model"
	"bar-crm/internal/service"
)

// handleServiceError maps a domain or service error onto the HTTP envelope.
// Specific errors are checked before their categories.
func handleServiceError(c *gin.Context, err error) {
	_ = c.Error(err)

	var overlap *service.RuleOverlapError
	switch {
	case errors.As(err, &overlap):
		response.FailWithData(c, http.StatusConflict, response.ErrRuleOverlap, err.Error(), gin.H{
			"conflicts": overlap.Conflicts,
		})
	case errors.Is(err, service.ErrAccountNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAccountNotFound, err.Error())
	case errors.Is(err, service.ErrRuleNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrRuleNotFound, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrRecalculationInProgress):
		response.Fail(c, http.StatusConflict, response.ErrRecalculationInProgress, err.Error())
	case errors.Is(err, model.ErrConcurrency):
		response.Fail(c, http.StatusConflict, response.ErrConcurrentModification, err.Error())
	case errors.Is(err, model.ErrRuleDateRangeOverlap):
		response.Fail(c, http.StatusConflict, response.ErrRuleOverlap, err.Error())
	case errors.Is(err, model.ErrInsufficientPoints):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInsufficientPoints, err.Error())
	case errors.Is(err, model.ErrEarnedBelowUsed):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrEarnedBelowUsed, err.Error())
	case errors.Is(err, model.ErrRuleAlreadyInactive):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrRuleInactive, err.Error())
	case errors.Is(err, model.ErrNoApplicableRule):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoApplicableRule, err.Error())
	case errors.Is(err, model.ErrValidation), errors.Is(err, service.ErrInvalidAuditInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, err.Error())
	case errors.Is(err, model.ErrBusinessRule):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrBusinessRule, err.Error())
	case errors.Is(err, model.ErrInvariant):
		response.Fail(c, http.StatusInternalServerError, response.ErrCorruptedData, "stored data failed integrity checks")
	case errors.Is(err, context.DeadlineExceeded):
		response.Fail(c, http.StatusGatewayTimeout, response.ErrInternal, "request timed out")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}

func badRequest(c *gin.Context, message string) {
	response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, message)
}
