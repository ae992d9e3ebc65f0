package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository appends entries to audit_logs.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository returns nil for a nil db so callers can skip auditing.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, now: time.Now}
}

// Log implements Logger.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	e := entry.normalized(r.now())
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (id, customer_id, actor, role, action, resource_type, resource_id,
	scope, metadata, payload_digest, ip, user_agent, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO NOTHING`,
		e.ID, nullString(e.CustomerID), e.Actor, e.Role, e.Action, e.ResourceType, e.ResourceID,
		e.Scope, nullJSON(e.Metadata), e.PayloadDigest, e.IP, e.UserAgent, e.CreatedAt)
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullJSON(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
