package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"flashflow/internal/audit"
	"flashflow/internal/config"
	"flashflow/internal/domain"
	"flashflow/internal/engine/auth"
	"flashflow/internal/notify"
	"flashflow/internal/repo"
)

// Engine implements the custody operations over the single-row claim
// representation. Mutations go through conditional updates in repo; every
// committed transition is followed by an audit record.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Notifier notify.Service
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Audit:    audit.Writer{DB: db},
		Notifier: notify.NewService(cfg),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// ttl resolves a requested lease duration, falling back to the configured
// default.
func (e Engine) ttl(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return time.Duration(e.Config.ClaimTTLMinutes()) * time.Minute
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateVideoOptions are parameters for registering a video.
type CreateVideoOptions struct {
	Title         string
	VariantID     string
	AccountID     string
	Status        string
	Actor         auth.Actor
	CorrelationID string
}

// CreateVideo registers a new video, or returns an existing pickup-eligible
// one matching the same variant/account pair instead of inserting a
// duplicate.
func (e Engine) CreateVideo(ctx context.Context, opts CreateVideoOptions) (domain.Video, bool, error) {
	if opts.Title == "" {
		return domain.Video{}, false, errors.New("title is required")
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusNotRecorded
	}
	switch status {
	case domain.StatusNotRecorded, domain.StatusRecorded, domain.StatusEditing,
		domain.StatusReview, domain.StatusApproved, domain.StatusPosted, domain.StatusError:
	default:
		return domain.Video{}, false, fmt.Errorf("invalid status %q", status)
	}

	if status == domain.StatusNotRecorded && opts.VariantID != "" && opts.AccountID != "" {
		existing, err := e.Repo.FindPickupEligible(ctx, opts.VariantID, opts.AccountID)
		if err == nil {
			e.Audit.Record(ctx, audit.Entry{
				VideoID:       existing.ID,
				EventType:     domain.EventDedupeReturn,
				CorrelationID: opts.CorrelationID,
				ActorID:       opts.Actor.ID,
				Details:       audit.Details{"variant_id": opts.VariantID, "account_id": opts.AccountID},
			})
			return existing, true, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Video{}, false, err
		}
	}

	now := stamp(e.now())
	v := domain.Video{
		ID:        uuid.New().String(),
		Title:     opts.Title,
		VariantID: opts.VariantID,
		AccountID: opts.AccountID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Video{}, false, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertVideo(ctx, tx, v); err != nil {
		return domain.Video{}, false, fmt.Errorf("insert video: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Video{}, false, err
	}

	e.Audit.Record(ctx, audit.Entry{
		VideoID:       v.ID,
		EventType:     domain.EventCreate,
		CorrelationID: opts.CorrelationID,
		ActorID:       opts.Actor.ID,
		Details:       audit.Details{"status": status, "title": opts.Title},
	})
	return v, false, nil
}

// ClaimOptions are parameters for acquiring a lease.
type ClaimOptions struct {
	VideoID       string
	Role          string
	TTL           time.Duration
	Actor         auth.Actor
	CorrelationID string
}

// ClaimVideo acquires a time-bounded lease on a video. Expired leases are
// reclaimed in the same conditional update; re-claiming a lease the caller
// already holds renews it.
func (e Engine) ClaimVideo(ctx context.Context, opts ClaimOptions) (domain.Video, error) {
	if !domain.ValidRole(opts.Role) {
		return domain.Video{}, InvalidRoleError{Role: opts.Role}
	}

	v, err := e.Repo.GetVideo(ctx, opts.VideoID)
	if err != nil {
		return domain.Video{}, err
	}

	now := e.now()
	nowStr := stamp(now)
	if v.Claimed() && *v.ClaimExpiresAt > nowStr && *v.ClaimHolder != opts.Actor.ID {
		return domain.Video{}, ConflictError{
			Holder:    *v.ClaimHolder,
			Role:      deref(v.ClaimRole),
			ExpiresAt: *v.ClaimExpiresAt,
		}
	}

	expires := stamp(now.Add(e.ttl(opts.TTL)))
	ok, err := e.Repo.AcquireClaim(ctx, opts.VideoID, opts.Actor.ID, opts.Role, nowStr, expires, nowStr)
	if err != nil {
		return domain.Video{}, err
	}
	if !ok {
		// Lost the race between read and update.
		cur, rerr := e.Repo.GetVideo(ctx, opts.VideoID)
		if rerr != nil {
			return domain.Video{}, rerr
		}
		return domain.Video{}, ConflictError{
			Holder:    deref(cur.ClaimHolder),
			Role:      deref(cur.ClaimRole),
			ExpiresAt: deref(cur.ClaimExpiresAt),
		}
	}

	if err := e.Repo.EnsureActor(ctx, opts.Actor.ID); err != nil {
		e.logger().Printf("ensure actor %s: %v", opts.Actor.ID, err)
	}
	e.Audit.Record(ctx, audit.Entry{
		VideoID:       opts.VideoID,
		EventType:     domain.EventClaim,
		CorrelationID: opts.CorrelationID,
		ActorID:       opts.Actor.ID,
		ToHolder:      opts.Actor.ID,
		ToRole:        opts.Role,
		Details:       audit.Details{"expires_at": expires},
	})
	return e.Repo.GetVideo(ctx, opts.VideoID)
}

// ReleaseOptions are parameters for releasing a lease.
type ReleaseOptions struct {
	VideoID       string
	Actor         auth.Actor
	Force         bool
	CorrelationID string
}

// ReleaseVideo clears the caller's lease. Releasing an unclaimed video is a
// success and still leaves an audit record. Force releases someone else's
// lease and is admin-only.
func (e Engine) ReleaseVideo(ctx context.Context, opts ReleaseOptions) (domain.Video, error) {
	if err := auth.RequireAdminForce(opts.Actor, opts.Force); err != nil {
		return domain.Video{}, err
	}

	v, err := e.Repo.GetVideo(ctx, opts.VideoID)
	if err != nil {
		return domain.Video{}, err
	}

	nowStr := stamp(e.now())
	if !v.Claimed() {
		e.Audit.Record(ctx, audit.Entry{
			VideoID:       opts.VideoID,
			EventType:     domain.EventRelease,
			CorrelationID: opts.CorrelationID,
			ActorID:       opts.Actor.ID,
			Details:       audit.Details{"noop": true},
		})
		return v, nil
	}
	if *v.ClaimHolder != opts.Actor.ID && !opts.Force {
		return domain.Video{}, NotClaimOwnerError{Holder: *v.ClaimHolder}
	}

	fromHolder := *v.ClaimHolder
	fromRole := deref(v.ClaimRole)
	ok, err := e.Repo.ReleaseClaim(ctx, opts.VideoID, opts.Actor.ID, nowStr, opts.Force)
	if err != nil {
		return domain.Video{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetVideo(ctx, opts.VideoID)
		if rerr != nil {
			return domain.Video{}, rerr
		}
		if cur.Claimed() {
			return domain.Video{}, NotClaimOwnerError{Holder: *cur.ClaimHolder}
		}
		// Someone else already released; same observable outcome.
		fromHolder = ""
		fromRole = ""
	}

	e.Audit.Record(ctx, audit.Entry{
		VideoID:       opts.VideoID,
		EventType:     domain.EventRelease,
		CorrelationID: opts.CorrelationID,
		ActorID:       opts.Actor.ID,
		FromHolder:    fromHolder,
		FromRole:      fromRole,
		Details:       audit.Details{"forced": opts.Force},
	})
	return e.Repo.GetVideo(ctx, opts.VideoID)
}

// HandoffOptions are parameters for transferring custody.
type HandoffOptions struct {
	VideoID       string
	Actor         auth.Actor
	ToUser        string
	ToRole        string
	TTL           time.Duration
	Notes         string
	Force         bool
	CorrelationID string
}

// HandoffVideo atomically transfers the lease to another worker and records
// a durable assignment in the same update, so no reader ever observes the
// video unclaimed mid-transfer. Force bypasses the ownership check and is
// admin-only.
func (e Engine) HandoffVideo(ctx context.Context, opts HandoffOptions) (domain.Video, error) {
	if err := auth.RequireAdminForce(opts.Actor, opts.Force); err != nil {
		return domain.Video{}, err
	}
	if opts.ToUser == "" {
		return domain.Video{}, errors.New("to_user_id is required")
	}
	if !domain.ValidRole(opts.ToRole) {
		return domain.Video{}, InvalidRoleError{Role: opts.ToRole}
	}

	v, err := e.Repo.GetVideo(ctx, opts.VideoID)
	if err != nil {
		return domain.Video{}, err
	}

	now := e.now()
	nowStr := stamp(now)
	if !opts.Force {
		if !v.Claimed() || *v.ClaimExpiresAt <= nowStr {
			return domain.Video{}, ErrNotClaimed
		}
		if *v.ClaimHolder != opts.Actor.ID {
			return domain.Video{}, NotClaimOwnerError{Holder: *v.ClaimHolder}
		}
	}

	fromHolder := deref(v.ClaimHolder)
	fromRole := deref(v.ClaimRole)
	expires := stamp(now.Add(e.ttl(opts.TTL)))
	ok, err := e.Repo.HandoffClaim(ctx, opts.VideoID, opts.Actor.ID, opts.ToUser, opts.ToRole,
		nowStr, expires, opts.Actor.ID, nowStr, opts.Force)
	if err != nil {
		return domain.Video{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetVideo(ctx, opts.VideoID)
		if rerr != nil {
			return domain.Video{}, rerr
		}
		if !cur.Claimed() || *cur.ClaimExpiresAt <= nowStr {
			return domain.Video{}, ErrNotClaimed
		}
		return domain.Video{}, NotClaimOwnerError{Holder: *cur.ClaimHolder}
	}

	if err := e.Repo.EnsureActor(ctx, opts.ToUser); err != nil {
		e.logger().Printf("ensure actor %s: %v", opts.ToUser, err)
	}
	details := audit.Details{"forced": opts.Force}
	if opts.Notes != "" {
		details["notes"] = opts.Notes
	}
	e.Audit.Record(ctx, audit.Entry{
		VideoID:       opts.VideoID,
		EventType:     domain.EventHandoff,
		CorrelationID: opts.CorrelationID,
		ActorID:       opts.Actor.ID,
		FromHolder:    fromHolder,
		FromRole:      fromRole,
		ToHolder:      opts.ToUser,
		ToRole:        opts.ToRole,
		Details:       details,
	})
	if err := e.Notifier.NotifyHandoff(ctx, v.ID, v.Title, opts.Actor.ID, opts.ToUser, opts.ToRole); err != nil {
		e.logger().Printf("notify handoff for %s: %v", v.ID, err)
	}
	return e.Repo.GetVideo(ctx, opts.VideoID)
}

// CompleteOptions are parameters for completing an assignment.
type CompleteOptions struct {
	VideoID       string
	Actor         auth.Actor
	Force         bool
	CorrelationID string
}

// CompleteVideoAssignment marks the caller's assignment completed. The
// transition is one-way; a completed assignment stays completed. Force
// completes on behalf of the assignee and is admin-only.
func (e Engine) CompleteVideoAssignment(ctx context.Context, opts CompleteOptions) (domain.Video, error) {
	if err := auth.RequireAdminForce(opts.Actor, opts.Force); err != nil {
		return domain.Video{}, err
	}

	v, err := e.Repo.GetVideo(ctx, opts.VideoID)
	if err != nil {
		return domain.Video{}, err
	}
	if v.AssignmentState == nil || *v.AssignmentState != domain.AssignmentAssigned {
		return domain.Video{}, ErrAssignmentNotActive
	}
	if *v.AssignedTo != opts.Actor.ID && !opts.Force {
		return domain.Video{}, NotAssignedError{AssignedTo: *v.AssignedTo}
	}

	nowStr := stamp(e.now())
	ok, err := e.Repo.CompleteAssignment(ctx, opts.VideoID, opts.Actor.ID, nowStr, opts.Force)
	if err != nil {
		return domain.Video{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetVideo(ctx, opts.VideoID)
		if rerr != nil {
			return domain.Video{}, rerr
		}
		if cur.AssignmentState == nil || *cur.AssignmentState != domain.AssignmentAssigned {
			return domain.Video{}, ErrAssignmentNotActive
		}
		return domain.Video{}, NotAssignedError{AssignedTo: deref(cur.AssignedTo)}
	}

	e.Audit.Record(ctx, audit.Entry{
		VideoID:       opts.VideoID,
		EventType:     domain.EventAssignmentCompleted,
		CorrelationID: opts.CorrelationID,
		ActorID:       opts.Actor.ID,
		FromHolder:    deref(v.AssignedTo),
		FromRole:      deref(v.AssignedRole),
		Details:       audit.Details{"forced": opts.Force},
	})
	return e.Repo.GetVideo(ctx, opts.VideoID)
}
