package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"flashflow/internal/engine"
	"flashflow/internal/engine/auth"
	"flashflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Shutdown stops the webhook dispatcher when cancelled. Background
	// when nil.
	Shutdown context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"lease held by alice (recorder) until 2026-03-01T14:00:00Z"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"holder\":\"alice\"}"`
}

type correlationKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the FlashFlow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(correlationMiddleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("FlashFlow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerVideos(group, cfg.Engine)
	registerClaims(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	shutdown := cfg.Shutdown
	if shutdown == nil {
		shutdown = context.Background()
	}
	startWebhookDispatcher(shutdown, cfg.Engine)

	return router, nil
}

// correlationMiddleware assigns each request a correlation id, honoring one
// supplied by the caller, and echoes it on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", corr)
		ctx := context.WithValue(r.Context(), correlationKey{}, corr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationFromContext(ctx context.Context) string {
	if corr, ok := ctx.Value(correlationKey{}).(string); ok {
		return corr
	}
	return ""
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the HTTP error taxonomy. Every
// precondition failure carries the observed state in details.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var conflict engine.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"holder":     conflict.Holder,
			"role":       conflict.Role,
			"expires_at": conflict.ExpiresAt,
		})
	}
	var owner engine.NotClaimOwnerError
	if errors.As(err, &owner) {
		return newAPIError(http.StatusConflict, "not_claim_owner", err.Error(), map[string]any{"holder": owner.Holder})
	}
	if errors.Is(err, engine.ErrNotClaimed) {
		return newAPIError(http.StatusConflict, "not_claimed", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAssignmentNotActive) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var na engine.NotAssignedError
	if errors.As(err, &na) {
		return newAPIError(http.StatusConflict, "not_assigned_to_you", err.Error(), map[string]any{"assigned_to": na.AssignedTo})
	}
	var role engine.InvalidRoleError
	if errors.As(err, &role) {
		return newAPIError(http.StatusBadRequest, "invalid_role", err.Error(), map[string]any{"role": role.Role})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// parseVideoID rejects malformed ids before any lookup so callers get a
// stable invalid_uuid instead of a generic not_found.
func parseVideoID(id string) huma.StatusError {
	if _, err := uuid.Parse(id); err != nil {
		return newAPIError(http.StatusBadRequest, "invalid_uuid", fmt.Sprintf("invalid video id %q", id), nil)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>FlashFlow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pipeline status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Config); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountVideosByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		now := e.Now().UTC().Format(time.RFC3339)
		claims, err := e.Repo.ListActiveClaims(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			VideoCounts:  counts,
			ActiveClaims: mapVideos(claims),
		}}, nil
	})
}

func registerVideos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-video",
		Method:        http.MethodPost,
		Path:          "/videos",
		Summary:       "Register video",
		Description:   "Registers a video, or returns an existing pickup-eligible video for the same variant and account instead of creating a duplicate.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateVideoRequest `json:"body"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		v, _, err := e.CreateVideo(ctx, engine.CreateVideoOptions{
			Title:         input.Body.Title,
			VariantID:     input.Body.VariantID,
			AccountID:     input.Body.AccountID,
			Status:        input.Body.Status,
			Actor:         actor,
			CorrelationID: correlationFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-video",
		Method:      http.MethodGet,
		Path:        "/videos/{video_id}",
		Summary:     "Get video",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VideoID string `path:"video_id"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Config); authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		v, err := e.Repo.GetVideo(ctx, input.VideoID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-videos",
		Method:      http.MethodGet,
		Path:        "/videos",
		Summary:     "List videos",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"not_recorded,recorded,editing,review,approved,posted,error" required:"false"`
		AssignedTo      string `query:"assigned_to" required:"false"`
		ClaimHolder     string `query:"claim_holder" required:"false"`
		Limit           int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        string `query:"cursor_id" required:"false"`
	}) (*struct {
		Body []VideoResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Config); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListVideos(ctx, repo.VideoFilters{
			Status:          input.Status,
			AssignedTo:      input.AssignedTo,
			ClaimHolder:     input.ClaimHolder,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VideoResponse `json:"body"`
		}{Body: mapVideos(items)}, nil
	})
}

func registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-video",
		Method:      http.MethodPost,
		Path:        "/videos/{video_id}/claim",
		Summary:     "Claim video",
		Description: "Acquires a time-bounded lease. Expired leases are reclaimed atomically; re-claiming your own lease renews it.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		VideoID string            `path:"video_id"`
		Body    ClaimVideoRequest `json:"body"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		v, err := e.ClaimVideo(ctx, engine.ClaimOptions{
			VideoID:       input.VideoID,
			Role:          input.Body.Role,
			TTL:           time.Duration(input.Body.TTLMinutes) * time.Minute,
			Actor:         actor,
			CorrelationID: correlationFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-video",
		Method:      http.MethodPost,
		Path:        "/videos/{video_id}/release",
		Summary:     "Release video",
		Description: "Releases the caller's lease. Releasing an unclaimed video succeeds. Force is admin-only.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		VideoID string              `path:"video_id"`
		Body    ReleaseVideoRequest `json:"body"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		v, err := e.ReleaseVideo(ctx, engine.ReleaseOptions{
			VideoID:       input.VideoID,
			Actor:         actor,
			Force:         input.Body.Force,
			CorrelationID: correlationFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "handoff-video",
		Method:      http.MethodPost,
		Path:        "/videos/{video_id}/handoff",
		Summary:     "Hand off video",
		Description: "Atomically transfers the lease to another worker and records a durable assignment. Force is admin-only.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		VideoID string              `path:"video_id"`
		Body    HandoffVideoRequest `json:"body"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		v, err := e.HandoffVideo(ctx, engine.HandoffOptions{
			VideoID:       input.VideoID,
			Actor:         actor,
			ToUser:        input.Body.ToUserID,
			ToRole:        input.Body.ToRole,
			TTL:           time.Duration(input.Body.TTLMinutes) * time.Minute,
			Notes:         input.Body.Notes,
			Force:         input.Body.Force,
			CorrelationID: correlationFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-assignment",
		Method:      http.MethodPost,
		Path:        "/videos/{video_id}/complete-assignment",
		Summary:     "Complete assignment",
		Description: "Marks the caller's assignment completed. The transition is one-way. Force is admin-only.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		VideoID string                    `path:"video_id"`
		Body    CompleteAssignmentRequest `json:"body"`
	}) (*struct {
		Body VideoResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		v, err := e.CompleteVideoAssignment(ctx, engine.CompleteOptions{
			VideoID:       input.VideoID,
			Actor:         actor,
			Force:         input.Body.Force,
			CorrelationID: correlationFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoResponse `json:"body"`
		}{Body: videoResponse(v)}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "video-audit",
		Method:      http.MethodGet,
		Path:        "/videos/{video_id}/audit",
		Summary:     "Video audit trail",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VideoID   string `path:"video_id"`
		EventType string `query:"event_type" required:"false"`
		Actor     string `query:"actor" required:"false"`
		Limit     int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
		Cursor    int64  `query:"cursor" required:"false"`
	}) (*struct {
		Body []AuditEventResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx, e.Config); authErr != nil {
			return nil, authErr
		}
		if errStatus := parseVideoID(input.VideoID); errStatus != nil {
			return nil, errStatus
		}
		if _, err := e.Repo.GetVideo(ctx, input.VideoID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			VideoID:   input.VideoID,
			EventType: input.EventType,
			Actor:     input.Actor,
			Limit:     input.Limit,
			Cursor:    input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditEventResponse `json:"body"`
		}{Body: mapAuditEvents(items)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e.Config)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": actor.ID,
			"admin":    actor.Admin,
			"source":   actor.Source,
		}}, nil
	})
}
