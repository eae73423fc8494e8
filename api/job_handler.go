package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	deliveryID, err := a.eng.EnqueueRaw(c.Request.Context(), req.Job, req.Data)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("enqueue: %w", err))
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{
		ID:     deliveryID,
		Job:    req.Job,
		Stream: a.eng.Producer().Stream(),
	})
}

func (a *API) healthz(c *gin.Context) {
	if err := a.eng.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
