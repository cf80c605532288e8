package server

import (
	"encoding/json"

	"flashflow/internal/domain"
)

// Request payloads

type CreateVideoRequest struct {
	Title     string `json:"title"`
	VariantID string `json:"variant_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status,omitempty" enum:"not_recorded,recorded,editing,review,approved,posted,error"`
}

type ClaimVideoRequest struct {
	Role       string `json:"role" enum:"recorder,editor,uploader,admin"`
	TTLMinutes int    `json:"ttl_minutes,omitempty" minimum:"0"`
}

type ReleaseVideoRequest struct {
	Force bool `json:"force,omitempty"`
}

type HandoffVideoRequest struct {
	ToUserID   string `json:"to_user_id"`
	ToRole     string `json:"to_role" enum:"recorder,editor,uploader,admin"`
	TTLMinutes int    `json:"ttl_minutes,omitempty" minimum:"0"`
	Notes      string `json:"notes,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

type CompleteAssignmentRequest struct {
	Force bool `json:"force,omitempty"`
}

// Response payloads

type VideoResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	VariantID string `json:"variant_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status" enum:"not_recorded,recorded,editing,review,approved,posted,error"`

	ClaimHolder     *string `json:"claim_holder,omitempty"`
	ClaimRole       *string `json:"claim_role,omitempty"`
	ClaimAcquiredAt *string `json:"claim_acquired_at,omitempty" format:"date-time"`
	ClaimExpiresAt  *string `json:"claim_expires_at,omitempty" format:"date-time"`

	AssignedTo      *string `json:"assigned_to,omitempty"`
	AssignedRole    *string `json:"assigned_role,omitempty"`
	AssignmentState *string `json:"assignment_state,omitempty" enum:"assigned,completed"`
	AssignedAt      *string `json:"assigned_at,omitempty" format:"date-time"`
	AssignedBy      *string `json:"assigned_by,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func videoResponse(v domain.Video) VideoResponse {
	return VideoResponse{
		ID:              v.ID,
		Title:           v.Title,
		VariantID:       v.VariantID,
		AccountID:       v.AccountID,
		Status:          v.Status,
		ClaimHolder:     v.ClaimHolder,
		ClaimRole:       v.ClaimRole,
		ClaimAcquiredAt: v.ClaimAcquiredAt,
		ClaimExpiresAt:  v.ClaimExpiresAt,
		AssignedTo:      v.AssignedTo,
		AssignedRole:    v.AssignedRole,
		AssignmentState: v.AssignmentState,
		AssignedAt:      v.AssignedAt,
		AssignedBy:      v.AssignedBy,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

func mapVideos(items []domain.Video) []VideoResponse {
	out := make([]VideoResponse, 0, len(items))
	for _, v := range items {
		out = append(out, videoResponse(v))
	}
	return out
}

type AuditEventResponse struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts" format:"date-time"`
	VideoID       string          `json:"video_id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	ActorID       string          `json:"actor_id"`
	FromHolder    string          `json:"from_holder,omitempty"`
	ToHolder      string          `json:"to_holder,omitempty"`
	FromRole      string          `json:"from_role,omitempty"`
	ToRole        string          `json:"to_role,omitempty"`
	Details       json.RawMessage `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func auditEventResponse(e domain.AuditEvent) AuditEventResponse {
	details := json.RawMessage("{}")
	if e.Details != "" && json.Valid([]byte(e.Details)) {
		details = json.RawMessage(e.Details)
	}
	return AuditEventResponse{
		ID:            e.ID,
		TS:            e.TS,
		VideoID:       e.VideoID,
		EventType:     e.EventType,
		CorrelationID: e.CorrelationID,
		ActorID:       e.ActorID,
		FromHolder:    e.FromHolder,
		ToHolder:      e.ToHolder,
		FromRole:      e.FromRole,
		ToRole:        e.ToRole,
		Details:       details,
	}
}

func mapAuditEvents(items []domain.AuditEvent) []AuditEventResponse {
	out := make([]AuditEventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, auditEventResponse(e))
	}
	return out
}

type StatusResponse struct {
	VideoCounts  map[string]int  `json:"video_counts"`
	ActiveClaims []VideoResponse `json:"active_claims"`
}
