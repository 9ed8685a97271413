package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// EnrollRequest is the body of POST /v1/identities
type EnrollRequest struct {
	ID         string      `json:"id" example:"student-042"`
	Label      string      `json:"label" example:"Maria Silva"`
	Embeddings [][]float32 `json:"embeddings"`
}

// IdentityResponse represents an enrolled identity
type IdentityResponse struct {
	ID          string `json:"id" example:"student-042"`
	Label       string `json:"label" example:"Maria Silva"`
	References  int    `json:"references" example:"3"`
	EnrolledAt  string `json:"enrolled_at" example:"2026-03-01T08:00:00Z"`
	State       string `json:"state,omitempty" example:"cooling"`
	LastCheckIn string `json:"last_check_in,omitempty" example:"2026-03-01T08:05:12Z"`
}

// IdentityListResponse lists active identities
type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Count      int                `json:"count" example:"1"`
}

// OverrideResponse is returned after clearing a cool-down window
type OverrideResponse struct {
	ID      string `json:"id" example:"student-042"`
	Cleared bool   `json:"cleared" example:"true"`
}

// FrameRequest is the body of POST /v1/frames
type FrameRequest struct {
	Embedding  []float32 `json:"embedding"`
	CapturedAt string    `json:"captured_at,omitempty" example:"2026-03-01T08:00:00Z"`
}

// OutcomeResponse is the result of processing one probe
type OutcomeResponse struct {
	Kind       string  `json:"kind" example:"accepted"`
	IdentityID string  `json:"identity_id,omitempty" example:"student-042"`
	RecordID   string  `json:"record_id,omitempty" example:"550e8400-e29b-41d4-a716-446655440000"`
	Seq        int64   `json:"seq,omitempty" example:"17"`
	Distance   float64 `json:"distance" example:"0.21"`
}

// AttendanceRecord is the audit entry carried by an outbox entry
type AttendanceRecord struct {
	ID         string  `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Seq        int64   `json:"seq" example:"17"`
	IdentityID string  `json:"identity_id" example:"student-042"`
	Label      string  `json:"label" example:"Maria Silva"`
	Kind       string  `json:"kind" example:"check_in"`
	Timestamp  string  `json:"timestamp" example:"2026-03-01T08:00:00Z"`
	DeviceID   string  `json:"device_id" example:"chamada-01"`
	Distance   float64 `json:"distance" example:"0.21"`
	Status     string  `json:"status" example:"failed_permanently"`
}

// OutboxEntry is an attendance record with its delivery metadata
type OutboxEntry struct {
	Record      AttendanceRecord `json:"record"`
	Attempts    int              `json:"attempts" example:"10"`
	NextRetryAt string           `json:"next_retry_at" example:"2026-03-01T08:10:00Z"`
	LastError   string           `json:"last_error,omitempty" example:"Event transport is unavailable: mqtt not connected"`
}

// FailedEntriesResponse lists permanently failed entries
type FailedEntriesResponse struct {
	Entries []OutboxEntry `json:"entries"`
	Count   int           `json:"count" example:"1"`
}

// OutboxStatsResponse summarizes the delivery queue
type OutboxStatsResponse struct {
	Depth              int            `json:"depth" example:"3"`
	ByStatus           map[string]int `json:"by_status"`
	TransportConnected bool           `json:"transport_connected" example:"true"`
}

// LiveEvent is one message on the /v1/live websocket
type LiveEvent struct {
	Type      string          `json:"type" example:"attendance.outcome"`
	DeviceID  string          `json:"device_id" example:"chamada-01"`
	Data      OutcomeResponse `json:"data"`
	Timestamp string          `json:"timestamp" example:"2026-03-01T08:00:00Z"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

var adminSecurity = []map[string][]string{{"AdminToken": {}}}

var (
	errUnauthorized = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing admin token"}, "401", "Unauthorized")
	errRateLimited  = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many requests"}, "429", "Too Many Requests")
	errInternal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
)

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Chamada Attendance API",
		Version:     "v0.1.0",
		Description: "Face-embedding attendance core: enrollment, matching, deduplicated check-ins and reliable MQTT delivery",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// Identities

		endpoint.New(
			endpoint.POST,
			"/identities",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Enroll an identity"),
			endpoint.WithDescription("Enrolls an identity with one or more reference embeddings (multi-pose). Embeddings are L2-normalized on enrollment. Re-enrolling a revoked id reactivates it."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithBody(EnrollRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(IdentityResponse{}, "201", "Identity enrolled"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "IDENTITY_ALREADY_ACTIVE", Message: "Identity is already enrolled and active"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "INVALID_EMBEDDING", Message: "Embedding is not a valid L2-normalized vector"}, "422", "Unprocessable Entity"),
				errInternal,
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.GET,
			"/identities",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("List active identities"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(IdentityListResponse{}, "200", "Active identities"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.GET,
			"/identities/{id}",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Get an identity and its attendance window"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Identity id")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(IdentityResponse{}, "200", "Identity found"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "IDENTITY_NOT_FOUND", Message: "Identity not found"}, "404", "Not Found"),
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.DELETE,
			"/identities/{id}",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Revoke an identity"),
			endpoint.WithDescription("Soft-revokes the identity. It stops matching immediately; its attendance history is kept."),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Identity id")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Identity revoked"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "IDENTITY_NOT_FOUND", Message: "Identity not found"}, "404", "Not Found"),
				errInternal,
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.POST,
			"/identities/{id}/override",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Clear the attendance cool-down"),
			endpoint.WithDescription("Administrative override: the next accepted match of this identity records a new check-in even inside the cool-down window."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Identity id")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(OverrideResponse{}, "200", "Window cleared"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "IDENTITY_NOT_FOUND", Message: "Identity not found"}, "404", "Not Found"),
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		// Frames

		endpoint.New(
			endpoint.POST,
			"/frames",
			endpoint.WithTags("Frames"),
			endpoint.WithSummary("Process a probe embedding"),
			endpoint.WithDescription("Matches the embedding, applies the cool-down and durably enqueues a check-in on acceptance. Returns 201 when a record was created."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithBody(FrameRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(OutcomeResponse{}, "201", "Check-in recorded"),
				response.New(OutcomeResponse{Kind: "suppressed"}, "200", "Ambiguous, rejected or suppressed"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "DIMENSION_MISMATCH", Message: "Embedding dimension does not match enrolled embeddings"}, "422", "Unprocessable Entity"),
				errRateLimited,
				errInternal,
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.GET,
			"/live",
			endpoint.WithTags("Frames"),
			endpoint.WithSummary("Live outcome feed (websocket)"),
			endpoint.WithDescription("Upgrades to a websocket that streams one message per processed probe. Slow clients are disconnected."),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(LiveEvent{}, "101", "Switching Protocols"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "HTTP_ERROR", Message: "Upgrade Required"}, "426", "Upgrade Required"),
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		// Outbox

		endpoint.New(
			endpoint.GET,
			"/outbox/failed",
			endpoint.WithTags("Outbox"),
			endpoint.WithSummary("List permanently failed entries"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.IntParam("limit", parameter.Query, parameter.WithDescription("Maximum entries (1-500, default: 50)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(FailedEntriesResponse{}, "200", "Failed entries, oldest first"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errInternal}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.POST,
			"/outbox/{seq}/requeue",
			endpoint.WithTags("Outbox"),
			endpoint.WithSummary("Requeue a failed entry"),
			endpoint.WithDescription("Moves a permanently failed entry back to pending with a fresh attempt budget."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.IntParam("seq", parameter.Path, parameter.WithDescription("Sequence number")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(OutboxEntry{}, "200", "Entry requeued"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "OUTBOX_ENTRY_NOT_FOUND", Message: "Outbox entry not found or not in a requeueable state"}, "404", "Not Found"),
				errInternal,
			}),
			endpoint.WithSecurity(adminSecurity),
		),

		endpoint.New(
			endpoint.GET,
			"/outbox/stats",
			endpoint.WithTags("Outbox"),
			endpoint.WithSummary("Delivery queue statistics"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(OutboxStatsResponse{}, "200", "Queue statistics"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errInternal}),
			endpoint.WithSecurity(adminSecurity),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
