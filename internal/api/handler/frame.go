package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

type FrameProcessor interface {
	ProcessFrameEmbedding(ctx context.Context, probe []float32, at time.Time) (domain.Outcome, error)
}

type FrameHandler struct {
	processor FrameProcessor
}

func NewFrameHandler(processor FrameProcessor) *FrameHandler {
	return &FrameHandler{processor: processor}
}

// FrameRequest body for POST /v1/frames. CapturedAt defaults to the time of receipt.
type FrameRequest struct {
	Embedding  []float32  `json:"embedding"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// Process POST /v1/frames runs one probe synchronously and returns its outcome.
func (h *FrameHandler) Process(c *fiber.Ctx) error {
	var req FrameRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if len(req.Embedding) == 0 {
		return domain.ErrValidationFailed.WithError(errors.New("embedding is required"))
	}

	at := time.Now()
	if req.CapturedAt != nil {
		at = *req.CapturedAt
	}

	outcome, err := h.processor.ProcessFrameEmbedding(c.UserContext(), req.Embedding, at)
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if outcome.Kind == domain.OutcomeAccepted {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(outcome)
}
