package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"reminder-voice/pkg/utils"
)

// Schema creates the calls table. EnsureSchema runs it at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_uuid        TEXT PRIMARY KEY,
	phone_number     TEXT NOT NULL,
	customer_name    TEXT NOT NULL DEFAULT '',
	invoice_number   TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ NULL,
	hangup_cause     TEXT NULL,
	hangup_source    TEXT NULL,
	custom_data      JSONB NOT NULL DEFAULT '{}'::jsonb,
	provider_call_id TEXT NULL
);
CREATE INDEX IF NOT EXISTS calls_user_created_idx ON calls (user_id, created_at DESC);
`

// PostgresRepo stores call records through database/sql with the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, "calls", Schema)
}

const selectColumns = `call_uuid, phone_number, customer_name, invoice_number, user_id, status,
created_at, ended_at, hangup_cause, hangup_source, custom_data, provider_call_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec            Record
		status         string
		endedAt        sql.NullTime
		hangupCause    sql.NullString
		hangupSource   sql.NullString
		customData     []byte
		providerCallID sql.NullString
	)
	if err := s.Scan(
		&rec.CallUUID,
		&rec.PhoneNumber,
		&rec.CustomerName,
		&rec.InvoiceNumber,
		&rec.UserID,
		&status,
		&rec.CreatedAt,
		&endedAt,
		&hangupCause,
		&hangupSource,
		&customData,
		&providerCallID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Status = Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	rec.HangupCause = hangupCause.String
	rec.HangupSource = hangupSource.String
	rec.ProviderCallID = providerCallID.String
	if len(customData) > 0 {
		if err := json.Unmarshal(customData, &rec.CustomData); err != nil {
			return Record{}, fmt.Errorf("calls: decode custom_data: %w", err)
		}
	}
	return rec, nil
}

func (r *PostgresRepo) Create(ctx context.Context, rec Record) error {
	data, err := encodeCustomData(rec.CustomData)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO calls (call_uuid, phone_number, customer_name, invoice_number, user_id, status, created_at, custom_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err = r.db.ExecContext(ctx, q,
		rec.CallUUID,
		rec.PhoneNumber,
		rec.CustomerName,
		rec.InvoiceNumber,
		rec.UserID,
		string(rec.Status),
		rec.CreatedAt,
		data,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, callUUID string) (Record, error) {
	q := `SELECT ` + selectColumns + ` FROM calls WHERE call_uuid = $1`
	return scanRecord(r.db.QueryRowContext(ctx, q, callUUID))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	q := `SELECT ` + selectColumns + ` FROM calls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update locks the row, applies fn and writes every mutable column back.
func (r *PostgresRepo) Update(ctx context.Context, callUUID string, fn UpdateFunc) (Record, error) {
	var out Record
	var noChange bool
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + selectColumns + ` FROM calls WHERE call_uuid = $1 FOR UPDATE`
		cur, err := scanRecord(tx.QueryRowContext(ctx, q, callUUID))
		if err != nil {
			return err
		}
		next := copyRecord(cur)
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = cur
				noChange = true
				return nil
			}
			return err
		}

		data, err := encodeCustomData(next.CustomData)
		if err != nil {
			return err
		}
		const uq = `
UPDATE calls
SET status = $2, ended_at = $3, hangup_cause = $4, hangup_source = $5, custom_data = $6, provider_call_id = $7
WHERE call_uuid = $1
`
		if _, err := tx.ExecContext(ctx, uq,
			callUUID,
			string(next.Status),
			next.EndedAt,
			nullString(next.HangupCause),
			nullString(next.HangupSource),
			data,
			nullString(next.ProviderCallID),
		); err != nil {
			return err
		}
		next.CallUUID = cur.CallUUID
		out = next
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if noChange {
		return out, ErrNoChange
	}
	return out, nil
}

func encodeCustomData(d CustomData) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("calls: encode custom_data: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
