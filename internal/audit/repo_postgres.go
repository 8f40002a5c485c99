package audit

import (
	"context"
	"database/sql"

	"reminder-voice/pkg/utils"
)

// Schema creates the insert-only audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS call_audit_events (
	id            TEXT PRIMARY KEY,
	call_uuid     TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	prev_status   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	hangup_cause  TEXT NOT NULL DEFAULT '',
	hangup_source TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_audit_events_call_idx ON call_audit_events (call_uuid, created_at);
`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, "call_audit_events", Schema)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (id, call_uuid, user_id, type, prev_status, status, hangup_cause, hangup_source, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CallUUID,
		e.UserID,
		string(e.Type),
		e.PrevStatus,
		e.Status,
		e.HangupCause,
		e.HangupSource,
		e.Message,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListForCall(ctx context.Context, callUUID string) ([]Event, error) {
	const q = `
SELECT id, call_uuid, user_id, type, prev_status, status, hangup_cause, hangup_source, message, created_at
FROM call_audit_events
WHERE call_uuid = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, callUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CallUUID, &e.UserID, &typ, &e.PrevStatus, &e.Status,
			&e.HangupCause, &e.HangupSource, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
