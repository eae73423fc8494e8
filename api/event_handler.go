package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xraph/punt/stream"
)

// events relays lifecycle events as server-sent events until the client
// goes away or the feed shuts down.
func (a *API) events(c *gin.Context) {
	var req EventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	topics := req.Topics
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	id := "http-" + uuid.NewString()
	sub := a.feed.Subscribe(id, topics...)
	defer a.feed.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
}

func (a *API) eventStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.feed.Stats())
}
