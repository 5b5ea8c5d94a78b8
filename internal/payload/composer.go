// Package payload builds the push content for an incident alert.
package payload

import (
	"strconv"
	"strings"
	"time"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// Data keys understood by the mobile client.
const (
	DataKeyIncidentId   = "incidentId"
	DataKeyType         = "type"
	DataKeySection      = "section"
	DataKeyAnonymous    = "anonymous"
	DataKeyCreatedAt    = "createdAt"
	DataKeyReporterName = "reporterName"
	DataKeyPriority     = "priority"
)

// Compose builds the alert payload for an incident. It performs no I/O and
// never fails; missing type and section fall back to defaults.
func Compose(incident models.Incident) models.NotificationPayload {
	incidentType := orDefault(incident.Type, constants.DefaultIncidentType)
	section := orDefault(incident.Section, constants.DefaultIncidentSection)

	return models.NotificationPayload{
		Title: "SOS: " + incidentType,
		Body:  section + " — Tap to view.",
		Data: map[string]string{
			DataKeyIncidentId:           incident.Id,
			DataKeyType:                 incidentType,
			DataKeySection:              section,
			DataKeyAnonymous:            strconv.FormatBool(incident.Anonymous),
			DataKeyCreatedAt:            incident.CreatedAt.UTC().Format(time.RFC3339),
			DataKeyReporterName:         reporterName(incident),
			DataKeyPriority:             constants.PushPriorityHigh,
			constants.NavigationHintKey: constants.NavigationHintOpen,
		},
		Hints: AlertHints(),
	}
}

// AlertHints returns the fixed delivery policy for SOS alerts.
func AlertHints() models.DeliveryHints {
	vibration := make([]int64, len(constants.AlertVibrationPattern))
	copy(vibration, constants.AlertVibrationPattern)

	return models.DeliveryHints{
		Priority:         constants.PushPriorityHigh,
		TimeToLive:       constants.PushTimeToLive,
		Sound:            constants.PushSound,
		ChannelID:        constants.AlertChannelID,
		VibrationPattern: vibration,
		Badge:            constants.AlertBadge,
		ContentAvailable: true,
	}
}

func reporterName(incident models.Incident) string {
	name := strings.TrimSpace(incident.ReporterName)
	if incident.Anonymous || name == "" {
		return constants.AnonymousReporter
	}
	return name
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
