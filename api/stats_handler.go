package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) retryCount(c *gin.Context) {
	count, err := a.eng.PendingRetries(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()

	retries, err := a.eng.PendingRetries(ctx)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	dead, err := a.eng.DLQService().Count(ctx)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	cfg := a.eng.Config()
	c.JSON(http.StatusOK, StatsResponse{
		Stream:      cfg.StreamKey(),
		Group:       cfg.Group,
		Consumer:    cfg.Consumer,
		Retries:     retries,
		DeadLetters: dead,
		Handlers:    a.eng.Registry().Names(),
	})
}
