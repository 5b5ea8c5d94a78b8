package models

import "time"

// DeliveryHints carries per-platform delivery policy.
type DeliveryHints struct {
	Priority         string
	TimeToLive       time.Duration
	Sound            string
	ChannelID        string // Android channel id, also used as the APNs category
	VibrationPattern []int64
	Badge            int
	ContentAvailable bool
}

// NotificationPayload is the channel-agnostic push content.
type NotificationPayload struct {
	Title string
	Body  string
	Data  map[string]string
	Hints DeliveryHints
}

// SendResponse is one per-token entry of a multicast response, in token order.
type SendResponse struct {
	Success   bool
	MessageId string
	ErrorCode string
	Error     string
}

// BatchResponse mirrors the platform multicast result.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResponse
}

// Outcome classifies one device delivery.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeTransientError Outcome = "transient-error"
	OutcomeInvalidToken   Outcome = "invalid-token"
)

// DispatchResult is the raw delivery result for one token.
type DispatchResult struct {
	Token     string
	Success   bool
	ErrorCode string
	Error     string
}

// DispatchStatus tells whether Handle did any work.
type DispatchStatus string

const (
	DispatchStatusNoOp       DispatchStatus = "noop"
	DispatchStatusDispatched DispatchStatus = "dispatched"
)

// DispatchOutcome summarizes one Handle invocation.
type DispatchOutcome struct {
	RunId            string         `json:"runId,omitempty"`
	IncidentId       string         `json:"incidentId"`
	Status           DispatchStatus `json:"status"`
	SkipReason       string         `json:"skipReason,omitempty"`
	TopicSuccess     int            `json:"topicSuccess"`
	TopicFailure     int            `json:"topicFailure"`
	TopicError       string         `json:"topicError,omitempty"`
	DevicesAttempted int            `json:"devicesAttempted"`
	DevicesDelivered int            `json:"devicesDelivered"`
	DevicesTransient int            `json:"devicesTransient"`
	DevicesInvalid   int            `json:"devicesInvalid"`
	TokensPruned     int            `json:"tokensPruned"`
	DirectoryError   string         `json:"directoryError,omitempty"`
	AuditWritten     bool           `json:"auditWritten"`
	DurationMs       int64          `json:"durationMs"`
}

// DispatchRun is the journal row for one non-noop Handle invocation.
type DispatchRun struct {
	Outcome    DispatchOutcome
	WorkerId   string
	StartedAt  time.Time
	FinishedAt time.Time
}
