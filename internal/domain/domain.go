package domain

// Roles a worker can hold custody under.
const (
	RoleRecorder = "recorder"
	RoleEditor   = "editor"
	RoleUploader = "uploader"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleRecorder, RoleEditor, RoleUploader, RoleAdmin:
		return true
	}
	return false
}

// Assignment states. Completion is one-way.
const (
	AssignmentAssigned  = "assigned"
	AssignmentCompleted = "completed"
)

// Production workflow statuses for a video.
const (
	StatusNotRecorded = "not_recorded"
	StatusRecorded    = "recorded"
	StatusEditing     = "editing"
	StatusReview      = "review"
	StatusApproved    = "approved"
	StatusPosted      = "posted"
	StatusError       = "error"
)

type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	VariantID string `json:"variant_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status" enum:"not_recorded,recorded,editing,review,approved,posted,error"`

	// Transient lease. All four fields are set or cleared as a unit.
	ClaimHolder     *string `json:"claim_holder,omitempty"`
	ClaimRole       *string `json:"claim_role,omitempty" enum:"recorder,editor,uploader,admin"`
	ClaimAcquiredAt *string `json:"claim_acquired_at,omitempty" format:"date-time"`
	ClaimExpiresAt  *string `json:"claim_expires_at,omitempty" format:"date-time"`

	// Durable assignment, survives lease expiry.
	AssignedTo      *string `json:"assigned_to,omitempty"`
	AssignedRole    *string `json:"assigned_role,omitempty" enum:"recorder,editor,uploader,admin"`
	AssignmentState *string `json:"assignment_state,omitempty" enum:"assigned,completed"`
	AssignedAt      *string `json:"assigned_at,omitempty" format:"date-time"`
	AssignedBy      *string `json:"assigned_by,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Claimed reports whether lease fields are physically set. The lease may
// still be expired; callers compare ClaimExpiresAt against now.
func (v Video) Claimed() bool {
	return v.ClaimHolder != nil
}

// Audit event types.
const (
	EventCreate              = "create"
	EventClaim               = "claim"
	EventRelease             = "release"
	EventHandoff             = "handoff"
	EventAssignmentCompleted = "assignment_completed"
	EventDedupeReturn        = "dedupe_return_existing"
)

// AuditEvent is an immutable record of one custody transition.
type AuditEvent struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	VideoID       string `json:"video_id"`
	EventType     string `json:"event_type" enum:"create,claim,release,handoff,assignment_completed,dedupe_return_existing"`
	CorrelationID string `json:"correlation_id"`
	ActorID       string `json:"actor_id"`
	FromHolder    string `json:"from_holder,omitempty"`
	ToHolder      string `json:"to_holder,omitempty"`
	FromRole      string `json:"from_role,omitempty"`
	ToRole        string `json:"to_role,omitempty"`
	Details       string `json:"details_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
