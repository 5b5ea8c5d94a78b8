package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// FirestoreDirectory reads security users and clears their FCM tokens.
type FirestoreDirectory struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreDirectory creates a directory backed by the users collection.
func NewFirestoreDirectory(client *firestore.Client, collection string) *FirestoreDirectory {
	return &FirestoreDirectory{client: client, collection: collection}
}

// FindRecipients returns users with the given role and approval flag.
func (d *FirestoreDirectory) FindRecipients(ctx context.Context, role string, approved bool) ([]models.Recipient, error) {
	iter := d.client.Collection(d.collection).
		Where(constants.FieldRole, "==", role).
		Where(constants.FieldApproved, "==", approved).
		Documents(ctx)
	defer iter.Stop()

	var recipients []models.Recipient
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", d.collection, err)
		}
		recipients = append(recipients, RecipientFromData(doc.Ref.ID, doc.Data()))
	}
	return recipients, nil
}

// ClearToken deletes the fcmToken field from every user whose token equals token exactly.
func (d *FirestoreDirectory) ClearToken(ctx context.Context, token string) (int, error) {
	iter := d.client.Collection(d.collection).
		Where(constants.FieldFCMToken, "==", token).
		Documents(ctx)
	defer iter.Stop()

	cleared := 0
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return cleared, fmt.Errorf("query token holders: %w", err)
		}
		// Precondition guards against a re-registration landing between query and update.
		_, err = doc.Ref.Update(ctx,
			[]firestore.Update{{Path: constants.FieldFCMToken, Value: firestore.Delete}},
			firestore.LastUpdateTime(doc.UpdateTime),
		)
		if status.Code(err) == codes.FailedPrecondition || status.Code(err) == codes.NotFound {
			continue
		}
		if err != nil {
			return cleared, fmt.Errorf("clear token on %s: %w", doc.Ref.ID, err)
		}
		cleared++
	}
	return cleared, nil
}

// RecipientFromData converts a user document. A non-string token is treated as absent.
func RecipientFromData(id string, data map[string]interface{}) models.Recipient {
	r := models.Recipient{Id: id}
	r.Role, _ = data[constants.FieldRole].(string)
	r.Approved, _ = data[constants.FieldApproved].(bool)
	r.FCMToken, _ = data[constants.FieldFCMToken].(string)
	return r
}

// FirestoreIncidents reads and writes the notificationSentAt marker.
type FirestoreIncidents struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreIncidents creates an incident store backed by the incidents collection.
func NewFirestoreIncidents(client *firestore.Client, collection string) *FirestoreIncidents {
	return &FirestoreIncidents{client: client, collection: collection}
}

// NotificationSentAt returns the stored marker, nil when unset or the document is missing.
func (s *FirestoreIncidents) NotificationSentAt(ctx context.Context, incidentId string) (*time.Time, error) {
	doc, err := s.client.Collection(s.collection).Doc(incidentId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", incidentId, err)
	}
	return timeField(doc.Data(), constants.FieldNotificationSentAt), nil
}

// MarkNotified sets notificationSentAt to the server timestamp with merge
// semantics. An existing marker is left untouched.
func (s *FirestoreIncidents) MarkNotified(ctx context.Context, incidentId string) error {
	ref := s.client.Collection(s.collection).Doc(incidentId)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && timeField(doc.Data(), constants.FieldNotificationSentAt) != nil {
			return nil
		}
		return tx.Set(ref, map[string]interface{}{
			constants.FieldNotificationSentAt: firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("mark incident %s notified: %w", incidentId, err)
	}
	return nil
}

// FirestoreIncidentFeed turns newly created incident documents into creation events.
type FirestoreIncidentFeed struct {
	client     *firestore.Client
	collection string
	filter     CreationFilter
	logger     *zap.Logger
}

// NewFirestoreIncidentFeed creates a feed over the incidents collection.
// Documents created more than replayWindow before the snapshot are ignored.
func NewFirestoreIncidentFeed(client *firestore.Client, collection string, replayWindow time.Duration, logger *zap.Logger) *FirestoreIncidentFeed {
	return &FirestoreIncidentFeed{
		client:     client,
		collection: collection,
		filter:     CreationFilter{ReplayWindow: replayWindow},
		logger:     logger.Named("incident-feed"),
	}
}

// Listen streams newly created sent incidents to out until ctx is cancelled.
// The first snapshot replays matching documents still inside the replay
// window; the idempotency marker absorbs those replays. Listen blocks while
// out is full.
func (f *FirestoreIncidentFeed) Listen(ctx context.Context, out chan<- models.IncidentCreated) error {
	iter := f.client.Collection(f.collection).
		Where(constants.FieldStatus, "==", constants.IncidentStatusSent).
		Snapshots(ctx)
	defer iter.Stop()

	f.logger.Info("Listening for incidents",
		zap.String("collection", f.collection),
		zap.Duration("replay_window", f.filter.ReplayWindow),
	)
	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("incident snapshots: %w", err)
		}

		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			doc := change.Doc
			if reason := f.filter.Reject(doc.CreateTime, doc.UpdateTime, snap.ReadTime); reason != "" {
				f.logger.Debug("Ignoring incident document",
					zap.String("incident_id", doc.Ref.ID),
					zap.String("reason", reason),
				)
				continue
			}
			event := IncidentEventFromData(doc.Ref.ID, doc.Data(), doc.CreateTime)
			select {
			case out <- event:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Reasons returned by CreationFilter.Reject.
const (
	RejectStale        = "created-before-replay-window"
	RejectUpdatedLater = "updated-after-creation"
)

// CreationFilter decides whether a document entering the sent-incident query
// is a creation event.
type CreationFilter struct {
	ReplayWindow time.Duration // 0 disables the age check
}

// Reject returns a non-empty reason when the document must not be dispatched.
// A document created directly as sent enters the query with equal create and
// update times; a later update means it became sent after creation.
func (f CreationFilter) Reject(createTime, updateTime, readTime time.Time) string {
	if f.ReplayWindow > 0 && !createTime.IsZero() && readTime.Sub(createTime) > f.ReplayWindow {
		return RejectStale
	}
	if !updateTime.IsZero() && updateTime.After(createTime) {
		return RejectUpdatedLater
	}
	return ""
}

// IncidentEventFromData converts an incident document into a creation event.
// createTime is used when the document carries no createdAt timestamp.
func IncidentEventFromData(id string, data map[string]interface{}, createTime time.Time) models.IncidentCreated {
	snapshot := &models.IncidentSnapshot{}
	snapshot.Type, _ = data["type"].(string)
	snapshot.Section, _ = data["section"].(string)
	snapshot.Description, _ = data["description"].(string)
	snapshot.ReporterName, _ = data["reporterName"].(string)
	snapshot.Anonymous, _ = data["anonymous"].(bool)
	snapshot.Status, _ = data[constants.FieldStatus].(string)
	snapshot.CreatedAt = createTime
	if createdAt := timeField(data, "createdAt"); createdAt != nil {
		snapshot.CreatedAt = *createdAt
	} else if raw, ok := data["createdAt"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			snapshot.CreatedAt = parsed
		}
	}
	snapshot.NotificationSentAt = timeField(data, constants.FieldNotificationSentAt)

	return models.IncidentCreated{IncidentId: id, Incident: snapshot}
}

// timeField returns a timestamp field, nil when absent, null or not a timestamp.
func timeField(data map[string]interface{}, key string) *time.Time {
	if ts, ok := data[key].(time.Time); ok {
		return &ts
	}
	return nil
}
