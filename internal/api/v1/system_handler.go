package v1

import (
	"strings"

	"github.com/gin-gonic/gin"

	loggerpkg "bar-crm/pkg/logger"
)

type SystemHandler struct {
	recent *loggerpkg.RecentLog
}

func RegisterSystemRoutes(group *gin.RouterGroup, recent *loggerpkg.RecentLog) {
	if recent == nil {
		return
	}

	handler := &SystemHandler{recent: recent}
	group.GET("/system/logs", handler.Logs)
}

// Logs returns the most recent warnings and errors kept in process memory.
func (h *SystemHandler) Logs(c *gin.Context) {
	since, err := parseAuditTime(c.Query("since"))
	if err != nil {
		badRequest(c, "invalid since")
		return
	}

	level := strings.ToLower(strings.TrimSpace(c.Query("level")))
	switch level {
	case "", "warn", "error", "dpanic", "panic", "fatal":
	default:
		badRequest(c, "invalid level")
		return
	}

	entries := h.recent.Query(loggerpkg.RecentQuery{
		Level:   level,
		Keyword: c.Query("keyword"),
		Since:   since,
		Limit:   parseIntOrDefault(c.Query("limit"), 50),
	})
	c.JSON(200, gin.H{"code": 0, "message": "success", "data": entries})
}
