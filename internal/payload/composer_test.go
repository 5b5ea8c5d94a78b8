package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

func fireIncident() models.Incident {
	return models.Incident{
		Id:           "i1",
		Type:         "Fire",
		Section:      "Library",
		ReporterName: "Jane Doe",
		Status:       constants.IncidentStatusSent,
		CreatedAt:    time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestCompose_TitleAndBody(t *testing.T) {
	p := Compose(fireIncident())
	assert.Equal(t, "SOS: Fire", p.Title)
	assert.Equal(t, "Library — Tap to view.", p.Body)
}

func TestCompose_Defaults(t *testing.T) {
	p := Compose(models.Incident{Id: "i2", Type: "  ", Anonymous: true})
	assert.Equal(t, "SOS: SOS", p.Title)
	assert.Equal(t, "Campus — Tap to view.", p.Body)
	assert.Equal(t, "SOS", p.Data[DataKeyType])
	assert.Equal(t, "Campus", p.Data[DataKeySection])
	assert.Equal(t, "true", p.Data[DataKeyAnonymous])
	assert.Equal(t, constants.AnonymousReporter, p.Data[DataKeyReporterName])
}

func TestCompose_Data(t *testing.T) {
	p := Compose(fireIncident())

	assert.Equal(t, map[string]string{
		"incidentId":                "i1",
		"type":                      "Fire",
		"section":                   "Library",
		"anonymous":                 "false",
		"createdAt":                 "2026-03-14T09:30:00Z",
		"reporterName":              "Jane Doe",
		"priority":                  "high",
		constants.NavigationHintKey: constants.NavigationHintOpen,
	}, p.Data)
}

func TestCompose_AnonymousHidesReporter(t *testing.T) {
	in := fireIncident()
	in.Anonymous = true
	p := Compose(in)
	assert.Equal(t, constants.AnonymousReporter, p.Data[DataKeyReporterName])
}

func TestCompose_CreatedAtIsUTC(t *testing.T) {
	in := fireIncident()
	loc := time.FixedZone("IST", 5*3600+1800)
	in.CreatedAt = time.Date(2026, 3, 14, 15, 0, 0, 0, loc)
	p := Compose(in)
	assert.Equal(t, "2026-03-14T09:30:00Z", p.Data[DataKeyCreatedAt])
}

func TestCompose_Hints(t *testing.T) {
	h := Compose(fireIncident()).Hints
	assert.Equal(t, "high", h.Priority)
	assert.Equal(t, time.Hour, h.TimeToLive)
	assert.Equal(t, "default", h.Sound)
	assert.Equal(t, constants.AlertChannelID, h.ChannelID)
	assert.Equal(t, []int64{0, 500, 250, 500}, h.VibrationPattern)
	assert.Equal(t, 1, h.Badge)
	assert.True(t, h.ContentAvailable)
}

func TestCompose_IsPure(t *testing.T) {
	in := fireIncident()
	first := Compose(in)
	second := Compose(in)
	require.Equal(t, first, second)

	// Mutating one result must not leak into the next.
	first.Data["type"] = "changed"
	first.Hints.VibrationPattern[1] = 0
	third := Compose(in)
	assert.Equal(t, second, third)
}
