package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"fleetbridge/internal/common/errors"
)

// PostgresRecorder stores audit entries in an append-only table. Entries are
// never updated or deleted; the table is the trail.
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the audit table when missing.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id          TEXT PRIMARY KEY,
			request_id  TEXT NOT NULL,
			event       TEXT NOT NULL,
			state       TEXT,
			actor       TEXT,
			payload     JSONB,
			occurred_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return errors.NewAuditWriteFailedError(err)
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_audit_entries_request
		ON audit_entries (request_id, occurred_at)`)
	if err != nil {
		return errors.NewAuditWriteFailedError(err)
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, entry Entry) error {
	var payload []byte
	if entry.Payload != nil {
		var err error
		payload, err = json.Marshal(entry.Payload)
		if err != nil {
			return errors.NewAuditWriteFailedError(err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, request_id, event, state, actor, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RequestID, entry.Event, entry.State, entry.Actor, payload, entry.At)
	if err != nil {
		return errors.NewAuditWriteFailedError(err)
	}
	return nil
}

// Trail returns the entries for one request in occurrence order.
func (r *PostgresRecorder) Trail(ctx context.Context, requestID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, event, state, actor, payload, occurred_at
		FROM audit_entries
		WHERE request_id = $1
		ORDER BY occurred_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var state, actor sql.NullString
		var payload []byte
		var at time.Time
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Event, &state, &actor, &payload, &at); err != nil {
			return nil, err
		}
		e.State = state.String
		e.Actor = actor.String
		e.At = at
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRecorder) Close() error {
	return nil
}
