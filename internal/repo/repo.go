package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"flashflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const videoColumns = `id,title,variant_id,account_id,status,
claim_holder,claim_role,claim_acquired_at,claim_expires_at,
assigned_to,assigned_role,assignment_state,assigned_at,assigned_by,
created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (domain.Video, error) {
	var v domain.Video
	var variantID, accountID sql.NullString
	var claimHolder, claimRole, claimAcquiredAt, claimExpiresAt sql.NullString
	var assignedTo, assignedRole, assignmentState, assignedAt, assignedBy sql.NullString
	err := row.Scan(&v.ID, &v.Title, &variantID, &accountID, &v.Status,
		&claimHolder, &claimRole, &claimAcquiredAt, &claimExpiresAt,
		&assignedTo, &assignedRole, &assignmentState, &assignedAt, &assignedBy,
		&v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if variantID.Valid {
		v.VariantID = variantID.String
	}
	if accountID.Valid {
		v.AccountID = accountID.String
	}
	v.ClaimHolder = optional(claimHolder)
	v.ClaimRole = optional(claimRole)
	v.ClaimAcquiredAt = optional(claimAcquiredAt)
	v.ClaimExpiresAt = optional(claimExpiresAt)
	v.AssignedTo = optional(assignedTo)
	v.AssignedRole = optional(assignedRole)
	v.AssignmentState = optional(assignmentState)
	v.AssignedAt = optional(assignedAt)
	v.AssignedBy = optional(assignedBy)
	return v, nil
}

func optional(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (r Repo) InsertVideo(ctx context.Context, tx *sql.Tx, v domain.Video) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO videos(id,title,variant_id,account_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.Title, nullable(v.VariantID), nullable(v.AccountID), v.Status, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVideo(ctx context.Context, id string) (domain.Video, error) {
	return scanVideo(r.DB.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id=?`, id))
}

func (r Repo) GetVideoTx(ctx context.Context, tx *sql.Tx, id string) (domain.Video, error) {
	return scanVideo(tx.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id=?`, id))
}

// FindPickupEligible returns an existing video with the same natural key
// still awaiting pickup, for idempotent creation.
func (r Repo) FindPickupEligible(ctx context.Context, variantID, accountID string) (domain.Video, error) {
	return scanVideo(r.DB.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE variant_id=? AND account_id=? AND status=? ORDER BY created_at ASC LIMIT 1`,
		variantID, accountID, domain.StatusNotRecorded))
}

type VideoFilters struct {
	Status          string
	AssignedTo      string
	ClaimHolder     string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListVideos(ctx context.Context, f VideoFilters) ([]domain.Video, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.ClaimHolder != "" {
		clauses = append(clauses, "claim_holder=?")
		args = append(args, f.ClaimHolder)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + videoColumns + ` FROM videos ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) CountVideosByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM videos GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// ListActiveClaims returns videos whose lease has not expired at now.
func (r Repo) ListActiveClaims(ctx context.Context, now string) ([]domain.Video, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE claim_holder IS NOT NULL AND claim_expires_at > ? ORDER BY claim_expires_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
