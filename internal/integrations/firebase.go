package integrations

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// MessagingClient is the subset of *messaging.Client used for delivery.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FcmPusher delivers payloads through Firebase Cloud Messaging.
type FcmPusher struct {
	client MessagingClient
}

// NewFcmPusher wraps an FCM client.
func NewFcmPusher(client MessagingClient) *FcmPusher {
	return &FcmPusher{client: client}
}

// SendToTopic sends one message to a topic.
func (p *FcmPusher) SendToTopic(ctx context.Context, topic string, payload models.NotificationPayload) error {
	msg := &messaging.Message{
		Topic:        topic,
		Notification: buildNotification(payload),
		Data:         payload.Data,
		Android:      buildAndroidConfig(payload.Hints),
		APNS:         buildAPNSConfig(payload.Hints),
	}
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm topic send (%s): %w", ErrorCode(err), err)
	}
	return nil
}

// SendMulticast sends one message to up to 500 tokens and maps every
// per-token error to a platform error code.
func (p *FcmPusher) SendMulticast(ctx context.Context, tokens []string, payload models.NotificationPayload) (models.BatchResponse, error) {
	if len(tokens) > constants.MaxMulticastTokens {
		return models.BatchResponse{}, fmt.Errorf("fcm multicast: %d tokens exceeds limit of %d", len(tokens), constants.MaxMulticastTokens)
	}

	resp, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: buildNotification(payload),
		Data:         payload.Data,
		Android:      buildAndroidConfig(payload.Hints),
		APNS:         buildAPNSConfig(payload.Hints),
	})
	if err != nil {
		return models.BatchResponse{}, fmt.Errorf("fcm multicast: %w", err)
	}

	out := models.BatchResponse{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Responses:    make([]models.SendResponse, 0, len(resp.Responses)),
	}
	for _, r := range resp.Responses {
		sr := models.SendResponse{Success: r.Success, MessageId: r.MessageID}
		if r.Error != nil {
			sr.Success = false
			sr.ErrorCode = ErrorCode(r.Error)
			sr.Error = r.Error.Error()
		}
		out.Responses = append(out.Responses, sr)
	}
	return out, nil
}

// ErrorCode maps an FCM error to its platform error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return constants.ErrorCodeDeadlineExceeded
	case messaging.IsUnregistered(err):
		return constants.ErrorCodeTokenNotRegistered
	case messaging.IsQuotaExceeded(err):
		return constants.ErrorCodeQuotaExceeded
	case messaging.IsInvalidArgument(err):
		return constants.ErrorCodeInvalidArgument
	case messaging.IsUnavailable(err):
		return constants.ErrorCodeUnavailable
	case messaging.IsInternal(err):
		return constants.ErrorCodeInternal
	case messaging.IsSenderIDMismatch(err), messaging.IsThirdPartyAuthError(err):
		return constants.ErrorCodeAuthentication
	default:
		return constants.ErrorCodeUnknown
	}
}

func buildNotification(payload models.NotificationPayload) *messaging.Notification {
	return &messaging.Notification{
		Title: payload.Title,
		Body:  payload.Body,
	}
}

func buildAndroidConfig(h models.DeliveryHints) *messaging.AndroidConfig {
	ttl := h.TimeToLive
	return &messaging.AndroidConfig{
		Priority: h.Priority,
		TTL:      &ttl,
		Notification: &messaging.AndroidNotification{
			Sound:               h.Sound,
			ChannelID:           h.ChannelID,
			VibrateTimingMillis: h.VibrationPattern,
			Priority:            messaging.PriorityMax,
		},
	}
}

func buildAPNSConfig(h models.DeliveryHints) *messaging.APNSConfig {
	badge := h.Badge
	apnsPriority := "5"
	if h.Priority == constants.PushPriorityHigh {
		apnsPriority = "10"
	}
	return &messaging.APNSConfig{
		Headers: map[string]string{
			"apns-priority":  apnsPriority,
			"apns-push-type": "alert",
		},
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:            h.Sound,
				Badge:            &badge,
				Category:         h.ChannelID,
				ContentAvailable: h.ContentAvailable,
			},
		},
	}
}
