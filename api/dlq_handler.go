package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 100

func (a *API) listDLQ(c *gin.Context) {
	var req ListDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	entries, err := a.eng.DLQService().List(c.Request.Context(), req.Limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ListDLQResponse{Entries: entries})
}

func (a *API) dlqCount(c *gin.Context) {
	count, err := a.eng.DLQService().Count(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("count dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}
