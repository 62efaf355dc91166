package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in authz_audit_logs.
type AuditLog struct {
	Ref     uuid.UUID
	ActorID int64
	RoleID  int64
	Action  string
	Meta    map[string]any
	At      time.Time
}

// AuditRecorder writes assignment changes into authz_audit_logs.
type AuditRecorder struct {
	pool *pgxpool.Pool
}

// NewAuditRecorder returns a new AuditRecorder.
func NewAuditRecorder(pool *pgxpool.Pool) *AuditRecorder {
	return &AuditRecorder{pool: pool}
}

// Record persists the log entry.
func (r *AuditRecorder) Record(ctx context.Context, log AuditLog) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if log.Action == "" {
		return errors.New("audit log requires an action")
	}
	if log.Ref == uuid.Nil {
		log.Ref = uuid.New()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO authz_audit_logs (ref, actor_id, role_id, action, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Ref, log.ActorID, log.RoleID, log.Action, metaJSON, log.At)
	return err
}
