package integrations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sos-notifications-worker/internal/models"
)

const journalSchema = `
CREATE TABLE DispatchJournal (
	RunId            TEXT PRIMARY KEY,
	IncidentId       TEXT NOT NULL,
	WorkerId         TEXT NOT NULL,
	TopicSuccess     INTEGER NOT NULL,
	TopicFailure     INTEGER NOT NULL,
	DevicesAttempted INTEGER NOT NULL,
	DevicesDelivered INTEGER NOT NULL,
	DevicesTransient INTEGER NOT NULL,
	DevicesInvalid   INTEGER NOT NULL,
	TokensPruned     INTEGER NOT NULL,
	DirectoryError   TEXT NULL,
	AuditWritten     BOOLEAN NOT NULL,
	StartedAt        DATETIME NOT NULL,
	FinishedAt       DATETIME NOT NULL
)`

func newTestJournal(t *testing.T) (*SqlJournal, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(journalSchema)
	require.NoError(t, err)
	return NewSqlJournal(db, zap.NewNop()), db
}

func TestSqlJournal_Record(t *testing.T) {
	journal, db := newTestJournal(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	err := journal.Record(ctx, models.DispatchRun{
		Outcome: models.DispatchOutcome{
			RunId:            "run-1",
			IncidentId:       "inc-1",
			Status:           models.DispatchStatusDispatched,
			TopicSuccess:     1,
			DevicesAttempted: 3,
			DevicesDelivered: 2,
			DevicesInvalid:   1,
			TokensPruned:     1,
			AuditWritten:     true,
		},
		WorkerId:   "worker-a",
		StartedAt:  started,
		FinishedAt: started.Add(250 * time.Millisecond),
	})
	require.NoError(t, err)

	var (
		incidentId, workerId string
		delivered, pruned    int
		directoryError       sql.NullString
		audit                bool
	)
	err = db.QueryRow(`SELECT IncidentId, WorkerId, DevicesDelivered, TokensPruned, DirectoryError, AuditWritten
		FROM DispatchJournal WHERE RunId = 'run-1'`).
		Scan(&incidentId, &workerId, &delivered, &pruned, &directoryError, &audit)
	require.NoError(t, err)

	assert.Equal(t, "inc-1", incidentId)
	assert.Equal(t, "worker-a", workerId)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, pruned)
	assert.False(t, directoryError.Valid)
	assert.True(t, audit)
}

func TestSqlJournal_RunsForIncident(t *testing.T) {
	journal, _ := newTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	for _, runId := range []string{"run-a", "run-b"} {
		require.NoError(t, journal.Record(ctx, models.DispatchRun{
			Outcome:    models.DispatchOutcome{RunId: runId, IncidentId: "inc-2", DirectoryError: "unavailable"},
			WorkerId:   "worker-a",
			StartedAt:  now,
			FinishedAt: now,
		}))
	}

	n, err := journal.RunsForIncident(ctx, "inc-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = journal.RunsForIncident(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSqlJournal_RecordDuplicateRun(t *testing.T) {
	journal, _ := newTestJournal(t)
	ctx := context.Background()
	run := models.DispatchRun{
		Outcome:    models.DispatchOutcome{RunId: "run-dup", IncidentId: "inc-3"},
		WorkerId:   "worker-a",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}

	require.NoError(t, journal.Record(ctx, run))
	err := journal.Record(ctx, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run=run-dup")
}
