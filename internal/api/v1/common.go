package v1

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func parseIntOrDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return def
	}
	return value
}

// pageFromQuery reads page and page_size and returns them together with the
// repository window they translate to.
func pageFromQuery(c *gin.Context) (int, int, repository.Pagination) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return page, pageSize, repository.Pagination{
		Limit:  int32(pageSize),              // #nosec G115 -- bounded by maxPageSize.
		Offset: int32((page - 1) * pageSize), // #nosec G115 -- page is user input but small enough in practice.
	}
}
