package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	"bar-crm/internal/model"
	"bar-crm/internal/service"
)

type RecalculationHandler struct {
	recalculation *service.PointsRecalculationService
}

type recalculateAllRequest struct {
	Force    bool `json:"force"`
	PageSize int  `json:"page_size"`
}

func NewRecalculationHandler(recalculation *service.PointsRecalculationService) *RecalculationHandler {
	return &RecalculationHandler{recalculation: recalculation}
}

func RegisterRecalculationRoutes(group *gin.RouterGroup, recalculation *service.PointsRecalculationService) {
	handler := NewRecalculationHandler(recalculation)

	group.POST("/recalculations", handler.RecalculateAll)
	group.POST("/accounts/:account_id/recalculate", handler.RecalculateAccount)
}

// RecalculateAll
// @Summary Re-derive earned points of every account from the active rules
// @Description Without force the run is refused when any account would end
// @Description with earned below used. The report is returned in both cases.
// @Tags recalculation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/recalculations [post]
func (h *RecalculationHandler) RecalculateAll(c *gin.Context) {
	var req recalculateAllRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	if req.PageSize < 0 {
		badRequest(c, "page_size must not be negative")
		return
	}

	report, err := h.recalculation.RecalculateAll(c.Request.Context(), service.RecalculationOptions{
		Force:    req.Force,
		PageSize: req.PageSize,
	})
	switch {
	case err == nil:
		response.Success(c, report)
	case errors.Is(err, service.ErrRecalculationBlocked):
		_ = c.Error(err)
		response.FailWithData(c, http.StatusConflict, response.ErrRecalculationBlocked, err.Error(), report)
	case errors.Is(err, service.ErrRecalculationPartiallyFailed):
		_ = c.Error(err)
		response.FailWithData(c, http.StatusInternalServerError, response.ErrRecalculationPartial, err.Error(), report)
	case report != nil && report.Cancelled:
		_ = c.Error(err)
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrInternal, "recalculation cancelled", report)
	default:
		handleServiceError(c, err)
	}
}

func (h *RecalculationHandler) RecalculateAccount(c *gin.Context) {
	result, err := h.recalculation.RecalculateAccount(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		if result != nil && errors.Is(err, model.ErrEarnedBelowUsed) {
			_ = c.Error(err)
			response.FailWithData(c, http.StatusUnprocessableEntity, response.ErrEarnedBelowUsed, err.Error(), result)
			return
		}
		handleServiceError(c, err)
		return
	}
	response.Success(c, result)
}
