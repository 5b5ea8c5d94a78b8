package constants

import "time"

const (
	IncidentStatusDraft    = "draft"
	IncidentStatusSent     = "sent"
	IncidentStatusArchived = "archived"

	RoleSecurity = "security"

	DefaultIncidentType    = "SOS"
	DefaultIncidentSection = "Campus"
	AnonymousReporter      = "Anonymous"
)

// Push platform limits and policy
const (
	MaxMulticastTokens = 500
	MinTokenLength     = 10

	// ErrorCodeTokenNotRegistered is the only code treated as permanent invalidity.
	ErrorCodeTokenNotRegistered = "messaging/registration-token-not-registered"
	ErrorCodeQuotaExceeded      = "messaging/quota-exceeded"
	ErrorCodeInvalidArgument    = "messaging/invalid-argument"
	ErrorCodeUnavailable        = "messaging/server-unavailable"
	ErrorCodeInternal           = "messaging/internal-error"
	ErrorCodeAuthentication     = "messaging/authentication-error"
	ErrorCodeUnknown            = "messaging/unknown-error"
	ErrorCodeDeadlineExceeded   = "deadline-exceeded"
	ErrorCodeBatchFailed        = "batch-failed"
)

// Delivery hints (fixed alert policy)
const (
	PushPriorityHigh   = "high"
	PushTimeToLive     = time.Hour
	PushSound          = "default"
	AlertChannelID     = "sos_alerts"
	AlertBadge         = 1
	NavigationHintKey  = "click_action"
	NavigationHintOpen = "OPEN_INCIDENT_DETAIL"
)

// AlertVibrationPattern alternates wait/vibrate durations in milliseconds: two pulses.
var AlertVibrationPattern = []int64{0, 500, 250, 500}

// Firestore field names
const (
	FieldRole               = "role"
	FieldApproved           = "approved"
	FieldFCMToken           = "fcmToken"
	FieldStatus             = "status"
	FieldNotificationSentAt = "notificationSentAt"
)
