package integrations

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sos-notifications-worker/internal/models"
)

// SqlJournal appends one row per dispatched run to the DispatchJournal table.
type SqlJournal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSqlJournal creates a journal over an open database.
func NewSqlJournal(db *sql.DB, logger *zap.Logger) *SqlJournal {
	return &SqlJournal{db: db, logger: logger.Named("journal")}
}

// Record inserts the run. Timestamps come from the caller, not the database clock.
func (j *SqlJournal) Record(ctx context.Context, run models.DispatchRun) error {
	o := run.Outcome
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO DispatchJournal (
			RunId, IncidentId, WorkerId,
			TopicSuccess, TopicFailure,
			DevicesAttempted, DevicesDelivered, DevicesTransient, DevicesInvalid,
			TokensPruned, DirectoryError, AuditWritten,
			StartedAt, FinishedAt
		) VALUES (
			@RunId, @IncidentId, @WorkerId,
			@TopicSuccess, @TopicFailure,
			@DevicesAttempted, @DevicesDelivered, @DevicesTransient, @DevicesInvalid,
			@TokensPruned, @DirectoryError, @AuditWritten,
			@StartedAt, @FinishedAt
		)`,
		sql.Named("RunId", o.RunId),
		sql.Named("IncidentId", o.IncidentId),
		sql.Named("WorkerId", run.WorkerId),
		sql.Named("TopicSuccess", o.TopicSuccess),
		sql.Named("TopicFailure", o.TopicFailure),
		sql.Named("DevicesAttempted", o.DevicesAttempted),
		sql.Named("DevicesDelivered", o.DevicesDelivered),
		sql.Named("DevicesTransient", o.DevicesTransient),
		sql.Named("DevicesInvalid", o.DevicesInvalid),
		sql.Named("TokensPruned", o.TokensPruned),
		sql.Named("DirectoryError", nullString(o.DirectoryError)),
		sql.Named("AuditWritten", o.AuditWritten),
		sql.Named("StartedAt", run.StartedAt.UTC()),
		sql.Named("FinishedAt", run.FinishedAt.UTC()),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch journal run=%s: %w", o.RunId, err)
	}
	j.logger.Debug("Dispatch run journaled",
		zap.String("run_id", o.RunId),
		zap.String("incident_id", o.IncidentId),
	)
	return nil
}

// RunsForIncident returns the number of journaled runs for an incident.
func (j *SqlJournal) RunsForIncident(ctx context.Context, incidentId string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM DispatchJournal WHERE IncidentId = @IncidentId`,
		sql.Named("IncidentId", incidentId),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dispatch runs incident=%s: %w", incidentId, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
