// Package api exposes a tempo engine over HTTP with gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/engine"
)

// API wires the HTTP handlers for a tempo engine.
type API struct {
	eng         *engine.Engine
	logger      *slog.Logger
	serviceName string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithTracing enables otelgin request spans under the given service name.
func WithTracing(serviceName string) Option {
	return func(a *API) { a.serviceName = serviceName }
}

// New creates an API from a tempo Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	return a.Router()
}

// Router builds a gin engine with tracing, recovery and request logging
// ahead of every route.
func (a *API) Router() *gin.Engine {
	router := gin.New()

	// Order matters: the span exists before recovery and logging run.
	if a.serviceName != "" {
		router.Use(otelgin.Middleware(a.serviceName))
	}
	router.Use(gin.Recovery())
	router.Use(a.requestLogger())

	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all tempo routes into r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.healthz)

	v1 := r.Group("/v1")
	{
		v1.POST("/jobs", a.enqueue)
		v1.POST("/invoke/:kind", a.invoke)

		v1.GET("/dead", a.listDead)
		v1.DELETE("/dead", a.purgeDead)
		v1.GET("/dead/:id", a.getDead)
		v1.POST("/dead/:id/replay", a.replayDead)
		v1.DELETE("/dead/:id", a.deleteDead)

		v1.GET("/schedules", a.listSchedules)
		v1.GET("/schedules/:name", a.getSchedule)
		v1.POST("/schedules/:name/enable", a.enableSchedule)
		v1.POST("/schedules/:name/disable", a.disableSchedule)

		v1.GET("/stats", a.stats)
		v1.GET("/events", a.events)
	}
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.InfoContext(c.Request.Context(), "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *API) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.eng.Broker().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps tempo sentinel errors to HTTP statuses.
func (a *API) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tempo.ErrUnknownKind),
		errors.Is(err, tempo.ErrJobNotFound),
		errors.Is(err, tempo.ErrDeadNotFound),
		errors.Is(err, tempo.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, tempo.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tempo.ErrConnection), errors.Is(err, tempo.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, tempo.Validationf("%s must be a non-negative integer", name)
	}
	return n, nil
}
