package services

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status              string `json:"status"`
	WorkerID            string `json:"worker_id"`
	Uptime              string `json:"uptime"`
	IncidentsDispatched int64  `json:"incidents_dispatched"`
	IncidentsSkipped    int64  `json:"incidents_skipped"`
	TopicSent           int64  `json:"topic_sent"`
	DevicesDelivered    int64  `json:"devices_delivered"`
	TokensPruned        int64  `json:"tokens_pruned"`
	TotalErrors         int64  `json:"total_errors"`
}

// HealthCheckHandler returns a handler reporting liveness and counters.
func HealthCheckHandler(workerId string, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthStatus{
			Status:              "healthy",
			WorkerID:            workerId,
			Uptime:              time.Since(metrics.StartTime).Round(time.Second).String(),
			IncidentsDispatched: metrics.IncidentsDispatched.Load(),
			IncidentsSkipped:    metrics.IncidentsSkipped.Load(),
			TopicSent:           metrics.TopicSent.Load(),
			DevicesDelivered:    metrics.DevicesDelivered.Load(),
			TokensPruned:        metrics.TokensPruned.Load(),
			TotalErrors:         metrics.TotalErrors(),
		})
	}
}
