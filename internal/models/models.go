package models

import "time"

// Incident is a reported safety event. Read-only to the dispatcher except
// for NotificationSentAt, the idempotency marker.
type Incident struct {
	Id                 string     `json:"id"`
	Type               string     `json:"type"`
	Section            string     `json:"section"`
	Description        string     `json:"description"`
	ReporterName       string     `json:"reporterName"`
	Anonymous          bool       `json:"anonymous"`
	Status             string     `json:"status"` // draft | sent | archived
	CreatedAt          time.Time  `json:"createdAt"`
	NotificationSentAt *time.Time `json:"notificationSentAt,omitempty"`
}

// IncidentSnapshot is the incident body carried by a creation event.
type IncidentSnapshot struct {
	Type               string     `json:"type"`
	Section            string     `json:"section"`
	Description        string     `json:"description"`
	ReporterName       string     `json:"reporterName"`
	Anonymous          bool       `json:"anonymous"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	NotificationSentAt *time.Time `json:"notificationSentAt,omitempty"`
}

// IncidentCreated is the trigger event fired once per incident document creation
// (possibly redelivered).
type IncidentCreated struct {
	IncidentId string            `json:"incidentId"`
	Incident   *IncidentSnapshot `json:"incident"`
}

// ToIncident merges the event id and snapshot into an Incident.
func (e IncidentCreated) ToIncident() Incident {
	if e.Incident == nil {
		return Incident{Id: e.IncidentId}
	}
	s := e.Incident
	return Incident{
		Id:                 e.IncidentId,
		Type:               s.Type,
		Section:            s.Section,
		Description:        s.Description,
		ReporterName:       s.ReporterName,
		Anonymous:          s.Anonymous,
		Status:             s.Status,
		CreatedAt:          s.CreatedAt,
		NotificationSentAt: s.NotificationSentAt,
	}
}

// Recipient is a user directory record.
type Recipient struct {
	Id       string
	Role     string
	Approved bool
	FCMToken string // empty when absent or not a string
}
