package repo

import (
	"context"

	"flashflow/internal/domain"
)

// Conditional custody transitions. Each helper issues a single UPDATE whose
// WHERE clause encodes the expected current state and reports success via the
// affected row count: of N concurrent attempts against one video, exactly one
// sees affected=1. Timestamps are RFC3339 UTC strings, which compare
// chronologically, so expiry predicates run inside SQL.

// AcquireClaim takes the lease when the video is unclaimed, the lease has
// expired, or the same holder is renewing.
func (r Repo) AcquireClaim(ctx context.Context, videoID, holder, role, acquiredAt, expiresAt, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE videos
SET claim_holder=?, claim_role=?, claim_acquired_at=?, claim_expires_at=?, updated_at=?
WHERE id=? AND (claim_holder IS NULL OR claim_expires_at <= ? OR claim_holder = ?)`,
		holder, role, acquiredAt, expiresAt, now, videoID, now, holder)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReleaseClaim clears all four lease fields. Unless force, the video must
// still be held by holder.
func (r Repo) ReleaseClaim(ctx context.Context, videoID, holder, now string, force bool) (bool, error) {
	query := `UPDATE videos
SET claim_holder=NULL, claim_role=NULL, claim_acquired_at=NULL, claim_expires_at=NULL, updated_at=?
WHERE id=? AND claim_holder=?`
	args := []any{now, videoID, holder}
	if force {
		query = `UPDATE videos
SET claim_holder=NULL, claim_role=NULL, claim_acquired_at=NULL, claim_expires_at=NULL, updated_at=?
WHERE id=? AND claim_holder IS NOT NULL`
		args = []any{now, videoID}
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HandoffClaim moves the lease and the durable assignment to a new holder in
// one statement, so no reader ever observes the video unclaimed in between.
// Unless force, the current lease must be active and held by fromHolder.
func (r Repo) HandoffClaim(ctx context.Context, videoID, fromHolder, toHolder, toRole, acquiredAt, expiresAt, assignedBy, now string, force bool) (bool, error) {
	set := `claim_holder=?, claim_role=?, claim_acquired_at=?, claim_expires_at=?,
assigned_to=?, assigned_role=?, assignment_state=?, assigned_at=?, assigned_by=?, updated_at=?`
	args := []any{toHolder, toRole, acquiredAt, expiresAt,
		toHolder, toRole, domain.AssignmentAssigned, acquiredAt, assignedBy, now}
	query := `UPDATE videos SET ` + set + ` WHERE id=? AND claim_holder=? AND claim_expires_at > ?`
	args = append(args, videoID, fromHolder, now)
	if force {
		query = `UPDATE videos SET ` + set + ` WHERE id=?`
		args = append(args[:10], videoID)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteAssignment moves assignment_state from assigned to completed,
// keeping assigned_to for historical reporting. Unless force, the assignment
// must belong to actor.
func (r Repo) CompleteAssignment(ctx context.Context, videoID, actor, now string, force bool) (bool, error) {
	query := `UPDATE videos SET assignment_state=?, updated_at=? WHERE id=? AND assignment_state=? AND assigned_to=?`
	args := []any{domain.AssignmentCompleted, now, videoID, domain.AssignmentAssigned, actor}
	if force {
		query = `UPDATE videos SET assignment_state=?, updated_at=? WHERE id=? AND assignment_state=?`
		args = []any{domain.AssignmentCompleted, now, videoID, domain.AssignmentAssigned}
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
