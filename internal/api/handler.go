package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sos-notifications-worker/internal/models"
	"sos-notifications-worker/internal/services"
	"sos-notifications-worker/internal/trigger"
)

// EventHandler processes one incident-creation event.
type EventHandler interface {
	Handle(ctx context.Context, event models.IncidentCreated) (models.DispatchOutcome, error)
}

// NewRouter builds the HTTP surface: the trigger endpoint, health probes and
// Prometheus metrics.
func NewRouter(handler EventHandler, metrics *services.Metrics, workerId string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger.Named("http")))

	health := services.HealthCheckHandler(workerId, metrics)
	router.GET("/health", health)
	router.GET("/healthz", health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/incidents/created", HandleIncidentCreated(handler))

	return router
}

// HandleIncidentCreated runs the dispatch pipeline for a posted creation event
// and returns its outcome.
func HandleIncidentCreated(handler EventHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.IncidentCreated
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		outcome, err := handler.Handle(c.Request.Context(), event)
		if errors.Is(err, trigger.ErrMalformedEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("Request failed", fields...)
			return
		}
		logger.Debug("Request handled", fields...)
	}
}
