package engine

import (
	"errors"
	"fmt"
)

// Precondition failures carry the observed current state so callers can
// re-read and retry with corrected assumptions instead of blindly repeating
// the same call.

// ConflictError means another actor holds a non-expired lease.
type ConflictError struct {
	Holder    string
	Role      string
	ExpiresAt string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("lease held by %s (%s) until %s", e.Holder, e.Role, e.ExpiresAt)
}

// NotClaimOwnerError means the caller is not the current lease holder.
type NotClaimOwnerError struct {
	Holder string
}

func (e NotClaimOwnerError) Error() string {
	return fmt.Sprintf("lease owned by %s", e.Holder)
}

// NotAssignedError means the caller is not the current assignee.
type NotAssignedError struct {
	AssignedTo string
}

func (e NotAssignedError) Error() string {
	if e.AssignedTo == "" {
		return "video is not assigned"
	}
	return fmt.Sprintf("video is assigned to %s", e.AssignedTo)
}

// InvalidRoleError means the role is outside the closed role set.
type InvalidRoleError struct {
	Role string
}

func (e InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid role %q", e.Role)
}

// ErrNotClaimed means the operation requires an active lease and there is
// none (either never claimed or expired).
var ErrNotClaimed = errors.New("video has no active lease")

// ErrAssignmentNotActive means the assignment state machine is not in
// assigned, so completion cannot proceed.
var ErrAssignmentNotActive = errors.New("video has no active assignment")
