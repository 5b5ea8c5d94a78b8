package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"sos-notifications-worker/internal/models"
)

var (
	dispatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_dispatch_runs_total",
			Help: "Incident trigger handling by status (dispatched, noop).",
		},
		[]string{"status"},
	)
	topicSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_topic_send_total",
			Help: "Topic broadcast attempts by result.",
		},
		[]string{"result"},
	)
	deviceResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_device_results_total",
			Help: "Direct device push results by outcome.",
		},
		[]string{"outcome"},
	)
	tokensPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sos_tokens_pruned_total",
			Help: "Device tokens removed from the directory after permanent invalidity.",
		},
	)
	pipelineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_pipeline_errors_total",
			Help: "Non-fatal pipeline errors by stage.",
		},
		[]string{"stage"},
	)
	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sos_dispatch_duration_seconds",
			Help:    "Duration of dispatched incident runs.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Metrics tracks worker statistics for the health endpoint and the periodic
// report. Every Record call also feeds the Prometheus collectors.
type Metrics struct {
	// Incidents
	IncidentsDispatched atomic.Int64
	IncidentsSkipped    atomic.Int64

	// Deliveries
	TopicSent        atomic.Int64
	DevicesDelivered atomic.Int64
	DevicesTransient atomic.Int64
	DevicesInvalid   atomic.Int64
	TokensPruned     atomic.Int64

	// Errors
	TopicErrors     atomic.Int64
	DirectoryErrors atomic.Int64
	AuditErrors     atomic.Int64
	JournalErrors   atomic.Int64

	// Timing
	TotalProcessingTimeMs atomic.Int64
	StartTime             time.Time
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now(),
	}
}

// RecordOutcome folds one Handle outcome into the counters.
func (m *Metrics) RecordOutcome(o models.DispatchOutcome) {
	dispatchRunsTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status == models.DispatchStatusNoOp {
		m.IncidentsSkipped.Add(1)
		return
	}

	m.IncidentsDispatched.Add(1)
	m.TotalProcessingTimeMs.Add(o.DurationMs)
	dispatchDuration.Observe(float64(o.DurationMs) / 1000)

	if o.TopicSuccess > 0 {
		m.TopicSent.Add(int64(o.TopicSuccess))
		topicSendTotal.WithLabelValues("success").Add(float64(o.TopicSuccess))
	}
	if o.TopicFailure > 0 {
		m.TopicErrors.Add(int64(o.TopicFailure))
		topicSendTotal.WithLabelValues("failure").Add(float64(o.TopicFailure))
	}

	m.DevicesDelivered.Add(int64(o.DevicesDelivered))
	m.DevicesTransient.Add(int64(o.DevicesTransient))
	m.DevicesInvalid.Add(int64(o.DevicesInvalid))
	deviceResultsTotal.WithLabelValues(string(models.OutcomeDelivered)).Add(float64(o.DevicesDelivered))
	deviceResultsTotal.WithLabelValues(string(models.OutcomeTransientError)).Add(float64(o.DevicesTransient))
	deviceResultsTotal.WithLabelValues(string(models.OutcomeInvalidToken)).Add(float64(o.DevicesInvalid))

	m.TokensPruned.Add(int64(o.TokensPruned))
	tokensPrunedTotal.Add(float64(o.TokensPruned))

	if o.DirectoryError != "" {
		m.DirectoryErrors.Add(1)
		pipelineErrorsTotal.WithLabelValues("directory").Inc()
	}
	if !o.AuditWritten {
		m.AuditErrors.Add(1)
		pipelineErrorsTotal.WithLabelValues("audit").Inc()
	}
}

// RecordJournalError counts a failed run journal write.
func (m *Metrics) RecordJournalError() {
	m.JournalErrors.Add(1)
	pipelineErrorsTotal.WithLabelValues("journal").Inc()
}

// TotalErrors sums all non-fatal error counters.
func (m *Metrics) TotalErrors() int64 {
	return m.TopicErrors.Load() +
		m.DirectoryErrors.Load() +
		m.AuditErrors.Load() +
		m.JournalErrors.Load() +
		m.DevicesTransient.Load()
}

// LogMetricsPeriodically logs metrics at regular intervals
func LogMetricsPeriodically(ctx context.Context, logger *zap.Logger, m *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Log final metrics before shutdown
			LogMetrics(logger, m)
			return
		case <-ticker.C:
			LogMetrics(logger, m)
		}
	}
}

// LogMetrics outputs current metrics as one structured log line
func LogMetrics(logger *zap.Logger, m *Metrics) {
	uptime := time.Since(m.StartTime)
	dispatched := m.IncidentsDispatched.Load()

	avgProcessingTime := float64(0)
	if dispatched > 0 {
		avgProcessingTime = float64(m.TotalProcessingTimeMs.Load()) / float64(dispatched)
	}

	logger.Info("Metrics report",
		zap.Duration("uptime", uptime.Round(time.Second)),
		zap.Int64("incidents_dispatched", dispatched),
		zap.Int64("incidents_skipped", m.IncidentsSkipped.Load()),
		zap.Int64("topic_sent", m.TopicSent.Load()),
		zap.Int64("topic_errors", m.TopicErrors.Load()),
		zap.Int64("devices_delivered", m.DevicesDelivered.Load()),
		zap.Int64("devices_transient", m.DevicesTransient.Load()),
		zap.Int64("devices_invalid", m.DevicesInvalid.Load()),
		zap.Int64("tokens_pruned", m.TokensPruned.Load()),
		zap.Int64("directory_errors", m.DirectoryErrors.Load()),
		zap.Int64("audit_errors", m.AuditErrors.Load()),
		zap.Int64("journal_errors", m.JournalErrors.Load()),
		zap.Float64("avg_dispatch_ms", avgProcessingTime),
	)
}
