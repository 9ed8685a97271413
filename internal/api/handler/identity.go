package handler

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/saturnino-fabrica-de-software/chamada/internal/audit"
	"github.com/saturnino-fabrica-de-software/chamada/internal/dedup"
	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// EnrollmentService is the enrollment store as seen by the API.
type EnrollmentService interface {
	Enroll(ctx context.Context, id, label string, embeddings [][]float32) (domain.Identity, error)
	Revoke(ctx context.Context, id string) error
	Get(id string) (domain.Identity, error)
	AllActive() iter.Seq[domain.Identity]
}

// AttendanceWindows exposes the cool-down state per identity.
type AttendanceWindows interface {
	State(id string, now time.Time) (dedup.State, time.Time)
	Override(id string) bool
}

type IdentityHandler struct {
	store   EnrollmentService
	windows AttendanceWindows
	logger  *slog.Logger
	audit   audit.Logger
}

func NewIdentityHandler(store EnrollmentService, windows AttendanceWindows, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{
		store:   store,
		windows: windows,
		logger:  logger,
	}
}

// WithAudit records enroll, revoke and override actions to log.
func (h *IdentityHandler) WithAudit(log audit.Logger) *IdentityHandler {
	h.audit = log
	return h
}

// EnrollRequest body for POST /v1/identities
type EnrollRequest struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Embeddings [][]float32 `json:"embeddings"`
}

type IdentityResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	References int        `json:"references"`
	EnrolledAt time.Time  `json:"enrolled_at"`
	State      string     `json:"state,omitempty"`
	LastCheck  *time.Time `json:"last_check_in,omitempty"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Count      int                `json:"count"`
}

type OverrideResponse struct {
	ID      string `json:"id"`
	Cleared bool   `json:"cleared"`
}

func toIdentityResponse(identity domain.Identity) IdentityResponse {
	return IdentityResponse{
		ID:         identity.ID,
		Label:      identity.Label,
		References: len(identity.Embeddings),
		EnrolledAt: identity.EnrolledAt,
	}
}

// Enroll POST /v1/identities
func (h *IdentityHandler) Enroll(c *fiber.Ctx) error {
	var req EnrollRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return domain.ErrValidationFailed.WithError(errors.New("id is required"))
	}

	identity, err := h.store.Enroll(c.UserContext(), req.ID, req.Label, req.Embeddings)
	record(c, h.audit, audit.Event{
		EventType:  audit.EventIdentityEnrolled,
		IdentityID: req.ID,
		Metadata:   map[string]string{"references": strconv.Itoa(len(req.Embeddings))},
	}, err)
	if err != nil {
		return err
	}

	h.logger.Info("identity enrolled",
		"identity_id", identity.ID,
		"references", len(identity.Embeddings),
	)

	return c.Status(fiber.StatusCreated).JSON(toIdentityResponse(identity))
}

// List GET /v1/identities
func (h *IdentityHandler) List(c *fiber.Ctx) error {
	resp := IdentityListResponse{Identities: []IdentityResponse{}}
	for identity := range h.store.AllActive() {
		resp.Identities = append(resp.Identities, toIdentityResponse(identity))
	}
	resp.Count = len(resp.Identities)

	return c.JSON(resp)
}

// Get GET /v1/identities/:id
func (h *IdentityHandler) Get(c *fiber.Ctx) error {
	identity, err := h.store.Get(utils.CopyString(c.Params("id")))
	if err != nil {
		return err
	}

	resp := toIdentityResponse(identity)
	if h.windows != nil {
		state, last := h.windows.State(identity.ID, time.Now())
		resp.State = string(state)
		if !last.IsZero() {
			resp.LastCheck = &last
		}
	}

	return c.JSON(resp)
}

// Revoke DELETE /v1/identities/:id
func (h *IdentityHandler) Revoke(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	err := h.store.Revoke(c.UserContext(), id)
	record(c, h.audit, audit.Event{EventType: audit.EventIdentityRevoked, IdentityID: id}, err)
	if err != nil {
		return err
	}

	h.logger.Info("identity revoked", "identity_id", id)
	return c.SendStatus(fiber.StatusNoContent)
}

// Override POST /v1/identities/:id/override clears the cool-down window so the
// next accepted match records a new check-in.
func (h *IdentityHandler) Override(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if _, err := h.store.Get(id); err != nil {
		return err
	}

	cleared := h.windows.Override(id)
	record(c, h.audit, audit.Event{
		EventType:  audit.EventCoolDownOverridden,
		IdentityID: id,
		Metadata:   map[string]string{"cleared": strconv.FormatBool(cleared)},
	}, nil)
	h.logger.Info("attendance window overridden", "identity_id", id, "cleared", cleared)

	return c.JSON(OverrideResponse{ID: id, Cleared: cleared})
}
