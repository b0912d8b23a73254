package v1

import (
	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	inputsanitize "bar-crm/internal/api/sanitize"
	"bar-crm/internal/service"
)

const maxDeductionReasonRunes = 200

type PointsHandler struct {
	pointsService *service.PointsService
}

type deductPointsRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func NewPointsHandler(pointsService *service.PointsService) *PointsHandler {
	return &PointsHandler{pointsService: pointsService}
}

// RegisterPointsRoutes mounts the member-facing account views. deductGuards
// run in front of the deduction endpoint only.
func RegisterPointsRoutes(group *gin.RouterGroup, pointsService *service.PointsService, deductGuards ...gin.HandlerFunc) {
	handler := NewPointsHandler(pointsService)
	members := group.Group("/members/:member_id")

	members.GET("/account", handler.Summary)
	members.GET("/ledger", handler.Ledger)
	deductChain := append(append([]gin.HandlerFunc{}, deductGuards...), handler.Deduct)
	members.POST("/deductions", deductChain...)
}

// Summary
// @Summary Points balance of a member
// @Tags points
// @Produce json
// @Security BearerAuth
// @Param member_id path string true "member id"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/members/{member_id}/account [get]
func (h *PointsHandler) Summary(c *gin.Context) {
	summary, err := h.pointsService.GetAccountSummary(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, summary)
}

func (h *PointsHandler) Ledger(c *gin.Context) {
	page, pageSize, window := pageFromQuery(c)

	entries, total, err := h.pointsService.ListLedger(c.Request.Context(), c.Param("member_id"), window)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Paginated(c, entries, page, pageSize, total)
}

// Deduct
// @Summary Spend points on behalf of a member
// @Description Fails with 422 when the available balance is too small.
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param member_id path string true "member id"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/members/{member_id}/deductions [post]
func (h *PointsHandler) Deduct(c *gin.Context) {
	var req deductPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	summary, err := h.pointsService.DeductPoints(c.Request.Context(), service.DeductInput{
		MemberID: c.Param("member_id"),
		Amount:   req.Amount,
		Reason:   inputsanitize.Text(req.Reason, maxDeductionReasonRunes),
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, summary)
}
