package response

import "github.com/gin-gonic/gin"

const (
	CodeSuccess = 0
)

const (
	ErrUnauthorized = 10001
	ErrTokenExpired = 10002
	ErrForbidden    = 10003
	ErrRateLimited  = 10004
)

const (
	ErrInvalidRequest = 20001
)

const (
	ErrAccountNotFound     = 30001
	ErrRuleNotFound        = 30002
	ErrTransactionNotFound = 30003
)

const (
	ErrInsufficientPoints = 40001
	ErrEarnedBelowUsed    = 40002
	ErrRuleOverlap        = 40003
	ErrRuleInactive       = 40004
	ErrNoApplicableRule   = 40005
	ErrBusinessRule       = 40099
)

const (
	ErrConcurrentModification = 50001
)

const (
	ErrRecalculationInProgress = 60001
	ErrRecalculationBlocked    = 60002
	ErrRecalculationPartial    = 60003
)

const (
	ErrCorruptedData = 99998
	ErrInternal      = 99999
)

type Response struct {
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func Success(c *gin.Context, data any) {
	c.JSON(200, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(201, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

func Paginated(c *gin.Context, data any, page, pageSize int, total int64) {
	c.JSON(200, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
		Pagination: &Pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	})
}

// FailWithData is used when the caller needs the partial result alongside the
// error, e.g. a blocked recalculation report.
func FailWithData(c *gin.Context, httpStatus, appCode int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus, appCode int, message string) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
	})
}
