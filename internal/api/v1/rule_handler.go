package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	inputsanitize "bar-crm/internal/api/sanitize"
	"bar-crm/internal/model"
	"bar-crm/internal/service"
)

const maxRuleDescriptionRunes = 500

type RuleHandler struct {
	ruleService *service.ConversionRuleService
}

type createRuleRequest struct {
	Rate        int    `json:"rate" binding:"required"`
	StartDate   string `json:"start_date" binding:"required"`
	EndDate     string `json:"end_date" binding:"required"`
	Description string `json:"description"`
}

type updateRuleRequest struct {
	Rate            int    `json:"rate" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"`
	EndDate         string `json:"end_date" binding:"required"`
	Description     string `json:"description"`
	ExpectedVersion int    `json:"expected_version"`
}

func NewRuleHandler(ruleService *service.ConversionRuleService) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

func RegisterRuleRoutes(group *gin.RouterGroup, ruleService *service.ConversionRuleService) {
	handler := NewRuleHandler(ruleService)
	rules := group.Group("/rules")

	rules.GET("", handler.List)
	rules.POST("", handler.Create)
	rules.GET("/active", handler.Active)
	rules.GET("/:id", handler.Get)
	rules.PUT("/:id", handler.Update)
	rules.POST("/:id/deactivate", handler.Deactivate)
}

// List
// @Summary List conversion rules
// @Tags rules
// @Produce json
// @Security BearerAuth
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Success 200 {object} response.Response
// @Router /api/v1/rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	page, pageSize, window := pageFromQuery(c)

	items, total, err := h.ruleService.List(c.Request.Context(), window)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Paginated(c, items, page, pageSize, total)
}

// Create
// @Summary Create a conversion rule
// @Description The new rule must not share any day with an active rule.
// @Tags rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	view, err := h.ruleService.Create(c.Request.Context(), service.CreateRuleInput{
		Rate:        req.Rate,
		StartDate:   strings.TrimSpace(req.StartDate),
		EndDate:     strings.TrimSpace(req.EndDate),
		Description: inputsanitize.Text(req.Description, maxRuleDescriptionRunes),
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, view)
}

func (h *RuleHandler) Get(c *gin.Context) {
	view, err := h.ruleService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, view)
}

// Active returns the rule in force on ?date=YYYY-MM-DD, today (UTC) when
// the parameter is omitted.
func (h *RuleHandler) Active(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = time.Now().UTC().Format(model.DateLayout)
	}

	view, err := h.ruleService.ActiveAt(c.Request.Context(), date)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, view)
}

// Update
// @Summary Replace the terms of an active rule
// @Description expected_version guards against lost updates when set.
// @Tags rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "rule id"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	var req updateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ExpectedVersion < 0 {
		badRequest(c, "expected_version must not be negative")
		return
	}

	view, err := h.ruleService.Update(c.Request.Context(), c.Param("id"), service.UpdateRuleInput{
		Rate:            req.Rate,
		StartDate:       strings.TrimSpace(req.StartDate),
		EndDate:         strings.TrimSpace(req.EndDate),
		Description:     inputsanitize.Text(req.Description, maxRuleDescriptionRunes),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *RuleHandler) Deactivate(c *gin.Context) {
	view, err := h.ruleService.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Response{Code: response.CodeSuccess, Message: "deactivated", Data: view})
}
