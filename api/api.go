// Package api provides the HTTP admin surface of a punt worker: health,
// enqueue and read-only inspection of the retry set and the dead letter
// stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/punt/engine"
	"github.com/xraph/punt/stream"
)

// API wires the gin handlers for one engine.
type API struct {
	eng  *engine.Engine
	feed *stream.Feed
}

// Option configures an API.
type Option func(*API)

// WithFeed exposes feed as a server-sent event stream under /v1/events.
// The feed must be registered as an extension of the same engine.
func WithFeed(feed *stream.Feed) Option {
	return func(a *API) { a.feed = feed }
}

// New creates an API from a punt Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all punt routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", a.healthz)

	v1 := router.Group("/v1")
	a.registerJobRoutes(v1)
	a.registerDLQRoutes(v1)
	a.registerStatsRoutes(v1)
	if a.feed != nil {
		a.registerEventRoutes(v1)
	}
}

func (a *API) registerJobRoutes(g *gin.RouterGroup) {
	g.POST("/jobs", a.enqueue)
}

func (a *API) registerDLQRoutes(g *gin.RouterGroup) {
	g.GET("/deadletter", a.listDLQ)
	g.GET("/deadletter/count", a.dlqCount)
}

func (a *API) registerStatsRoutes(g *gin.RouterGroup) {
	g.GET("/retries/count", a.retryCount)
	g.GET("/stats", a.stats)
}

func (a *API) registerEventRoutes(g *gin.RouterGroup) {
	g.GET("/events", a.events)
	g.GET("/events/stats", a.eventStats)
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
