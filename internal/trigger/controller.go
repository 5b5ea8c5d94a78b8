// Package trigger handles incident-creation events: it guards against duplicate
// dispatch, runs the topic and device delivery paths, prunes invalid tokens and
// writes the audit marker.
//
// Duplicate suppression rests only on the incident status and the
// notificationSentAt marker. Two concurrent deliveries of the same event can
// both pass the guard before either writes the marker; the result is one
// duplicate notification, which is accepted. No lock is taken.
package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/directory"
	"sos-notifications-worker/internal/dispatcher"
	"sos-notifications-worker/internal/models"
	"sos-notifications-worker/internal/payload"
)

// ErrMalformedEvent is returned for events without an incident id or snapshot.
var ErrMalformedEvent = errors.New("malformed incident event")

// Skip reasons reported on NoOp outcomes.
const (
	SkipNotSent         = "status-not-sent"
	SkipAlreadyNotified = "already-notified"
)

// Broadcaster sends the topic broadcast.
type Broadcaster interface {
	BroadcastToTopic(ctx context.Context, topic string, payload models.NotificationPayload) error
}

// DeviceSender sends batched direct pushes.
type DeviceSender interface {
	SendToDevices(ctx context.Context, tokens []string, payload models.NotificationPayload) []models.DispatchResult
}

// TokenDirectory resolves recipients and prunes invalid tokens.
type TokenDirectory interface {
	FindEligibleSecurityTokens(ctx context.Context) ([]string, error)
	Prune(ctx context.Context, invalidTokens []string) int
}

// IncidentStore reads and writes the idempotency marker.
type IncidentStore interface {
	// NotificationSentAt returns the current marker, nil when unset.
	NotificationSentAt(ctx context.Context, incidentId string) (*time.Time, error)
	// MarkNotified sets the marker to server time unless already set.
	MarkNotified(ctx context.Context, incidentId string) error
}

// RunRecorder persists a journal row per dispatched run.
type RunRecorder interface {
	Record(ctx context.Context, run models.DispatchRun) error
}

// OutcomeRecorder receives every outcome, including NoOps.
type OutcomeRecorder interface {
	RecordOutcome(o models.DispatchOutcome)
	RecordJournalError()
}

// Options configures the Controller.
type Options struct {
	Topic        string
	WorkerId     string
	StoreTimeout time.Duration // marker read and audit write, 0 disables
}

// Controller is the event entry point.
type Controller struct {
	logger    *zap.Logger
	opts      Options
	broadcast Broadcaster
	devices   DeviceSender
	directory TokenDirectory
	incidents IncidentStore
	journal   RunRecorder
	metrics   OutcomeRecorder
	now       func() time.Time
}

// Deps groups the Controller's collaborators. Journal and Metrics are optional.
type Deps struct {
	Broadcaster Broadcaster
	Devices     DeviceSender
	Directory   TokenDirectory
	Incidents   IncidentStore
	Journal     RunRecorder
	Metrics     OutcomeRecorder
}

// NewController creates a Controller.
func NewController(logger *zap.Logger, opts Options, deps Deps) *Controller {
	return &Controller{
		logger:    logger.Named("trigger"),
		opts:      opts,
		broadcast: deps.Broadcaster,
		devices:   deps.Devices,
		directory: deps.Directory,
		incidents: deps.Incidents,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// Handle processes one incident-creation event. It returns an error only for a
// malformed event; every delivery, directory, and store failure is folded into
// the outcome so the caller never re-triggers a partially delivered run.
//
// Once validated, a run ignores caller cancellation and is bounded only by the
// per-call timeouts: a run that writes the marker must also have attempted delivery.
func (c *Controller) Handle(ctx context.Context, event models.IncidentCreated) (models.DispatchOutcome, error) {
	if strings.TrimSpace(event.IncidentId) == "" || event.Incident == nil {
		return models.DispatchOutcome{}, ErrMalformedEvent
	}
	ctx = context.WithoutCancel(ctx)

	incident := event.ToIncident()
	logger := c.logger.With(zap.String("incident_id", incident.Id))

	if reason, skip := c.guard(ctx, logger, incident); skip {
		logger.Debug("Skipping incident", zap.String("reason", reason))
		outcome := models.DispatchOutcome{
			IncidentId: incident.Id,
			Status:     models.DispatchStatusNoOp,
			SkipReason: reason,
		}
		c.record(outcome)
		return outcome, nil
	}

	startedAt := c.now()
	outcome := models.DispatchOutcome{
		RunId:      uuid.New().String(),
		IncidentId: incident.Id,
		Status:     models.DispatchStatusDispatched,
	}
	msg := payload.Compose(incident)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runTopicPath(ctx, logger, msg, &outcome)
	}()
	go func() {
		defer wg.Done()
		c.runDevicePath(ctx, logger, msg, &outcome)
	}()
	wg.Wait()

	outcome.AuditWritten = c.writeAudit(ctx, logger, incident.Id)
	finishedAt := c.now()
	outcome.DurationMs = finishedAt.Sub(startedAt).Milliseconds()

	c.writeJournal(ctx, logger, models.DispatchRun{
		Outcome:    outcome,
		WorkerId:   c.opts.WorkerId,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})
	c.record(outcome)

	logger.Info("Incident dispatched",
		zap.String("run_id", outcome.RunId),
		zap.Int("topic_success", outcome.TopicSuccess),
		zap.Int("devices_attempted", outcome.DevicesAttempted),
		zap.Int("devices_delivered", outcome.DevicesDelivered),
		zap.Int("devices_transient", outcome.DevicesTransient),
		zap.Int("devices_invalid", outcome.DevicesInvalid),
		zap.Int("tokens_pruned", outcome.TokensPruned),
		zap.Bool("audit_written", outcome.AuditWritten),
	)
	return outcome, nil
}

// guard decides whether the incident must be skipped. Checks that need no
// I/O run first; the stored marker is consulted only when the snapshot lacks it.
func (c *Controller) guard(ctx context.Context, logger *zap.Logger, incident models.Incident) (string, bool) {
	if incident.Status != constants.IncidentStatusSent {
		return SkipNotSent, true
	}
	if incident.NotificationSentAt != nil {
		return SkipAlreadyNotified, true
	}
	if c.incidents == nil {
		return "", false
	}

	readCtx, cancel := c.timeoutContext(ctx)
	defer cancel()

	sentAt, err := c.incidents.NotificationSentAt(readCtx, incident.Id)
	if err != nil {
		// Unknown marker: dispatch.
		logger.Warn("Could not read notification marker, dispatching anyway", zap.Error(err))
		return "", false
	}
	if sentAt != nil {
		return SkipAlreadyNotified, true
	}
	return "", false
}

// runTopicPath writes only the topic fields of outcome.
func (c *Controller) runTopicPath(ctx context.Context, logger *zap.Logger, msg models.NotificationPayload, outcome *models.DispatchOutcome) {
	if err := c.broadcast.BroadcastToTopic(ctx, c.opts.Topic, msg); err != nil {
		outcome.TopicFailure = 1
		outcome.TopicError = err.Error()
		logger.Warn("Topic broadcast failed", zap.String("topic", c.opts.Topic), zap.Error(err))
		return
	}
	outcome.TopicSuccess = 1
}

// runDevicePath writes only the device, directory and prune fields of outcome.
func (c *Controller) runDevicePath(ctx context.Context, logger *zap.Logger, msg models.NotificationPayload, outcome *models.DispatchOutcome) {
	tokens, err := c.directory.FindEligibleSecurityTokens(ctx)
	if err != nil {
		outcome.DirectoryError = err.Error()
		logger.Error("Directory query failed, skipping device push", zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		logger.Info("No security devices registered")
		return
	}

	results := c.devices.SendToDevices(ctx, tokens, msg)
	classified := dispatcher.ClassifyAll(results)

	outcome.DevicesAttempted = len(results)
	outcome.DevicesDelivered = len(classified.Delivered)
	outcome.DevicesTransient = len(classified.Transient)
	outcome.DevicesInvalid = len(classified.Invalid)

	for _, r := range classified.Transient {
		logger.Warn("Device push failed",
			zap.String("token", directory.RedactToken(r.Token)),
			zap.String("code", r.ErrorCode),
			zap.String("error", r.Error),
		)
	}

	if len(classified.Invalid) > 0 {
		outcome.TokensPruned = c.directory.Prune(ctx, classified.Invalid)
	}
}

// writeAudit sets the marker. Failure is logged and never retried.
func (c *Controller) writeAudit(ctx context.Context, logger *zap.Logger, incidentId string) bool {
	if c.incidents == nil {
		return false
	}
	storeCtx, cancel := c.timeoutContext(ctx)
	defer cancel()

	if err := c.incidents.MarkNotified(storeCtx, incidentId); err != nil {
		logger.Error("Failed to write notification marker", zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) writeJournal(ctx context.Context, logger *zap.Logger, run models.DispatchRun) {
	if c.journal == nil {
		return
	}
	storeCtx, cancel := c.timeoutContext(ctx)
	defer cancel()

	if err := c.journal.Record(storeCtx, run); err != nil {
		logger.Error("Failed to journal dispatch run", zap.String("run_id", run.Outcome.RunId), zap.Error(err))
		if c.metrics != nil {
			c.metrics.RecordJournalError()
		}
	}
}

func (c *Controller) record(outcome models.DispatchOutcome) {
	if c.metrics != nil {
		c.metrics.RecordOutcome(outcome)
	}
}

func (c *Controller) timeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}
