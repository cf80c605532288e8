package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"flashflow/internal/domain"
)

const auditColumns = `id,ts,video_id,event_type,correlation_id,actor_id,
COALESCE(from_holder,''),COALESCE(to_holder,''),COALESCE(from_role,''),COALESCE(to_role,''),details_json`

func scanAuditEvent(row rowScanner) (domain.AuditEvent, error) {
	var e domain.AuditEvent
	err := row.Scan(&e.ID, &e.TS, &e.VideoID, &e.EventType, &e.CorrelationID, &e.ActorID,
		&e.FromHolder, &e.ToHolder, &e.FromRole, &e.ToRole, &e.Details)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type AuditFilters struct {
	VideoID       string
	EventType     string
	CorrelationID string
	Actor         string
	Limit         int
	Cursor        int64
}

// ListAuditEvents returns events newest-first, with an id cursor for paging.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.VideoID != "" {
		clauses = append(clauses, "video_id=?")
		args = append(args, f.VideoID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.CorrelationID != "" {
		clauses = append(clauses, "correlation_id=?")
		args = append(args, f.CorrelationID)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.Actor)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM audit_events %s ORDER BY id DESC LIMIT ?`, auditColumns, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditEventsAfter returns events with IDs greater than the cursor in
// ascending order, for webhook delivery.
func (r Repo) AuditEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM audit_events WHERE id>? ORDER BY id ASC LIMIT ?`, auditColumns), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditEventID returns the most recent audit event ID.
func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
