package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/chamada/internal/audit"
	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
)

type OutboxService interface {
	Failed(ctx context.Context, limit int) ([]domain.OutboxEntry, error)
	Requeue(ctx context.Context, seq int64) (domain.OutboxEntry, error)
	Depth() int
}

type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error)
}

type OutboxHandler struct {
	queue     OutboxService
	stats     OutboxStats
	transport TransportStatus
	audit     audit.Logger
}

// NewOutboxHandler creates the outbox handler. transport may be nil.
func NewOutboxHandler(queue OutboxService, stats OutboxStats, transport TransportStatus) *OutboxHandler {
	return &OutboxHandler{
		queue:     queue,
		stats:     stats,
		transport: transport,
	}
}

// WithAudit records requeue actions to log.
func (h *OutboxHandler) WithAudit(log audit.Logger) *OutboxHandler {
	h.audit = log
	return h
}

type FailedEntriesResponse struct {
	Entries []domain.OutboxEntry `json:"entries"`
	Count   int                  `json:"count"`
}

type OutboxStatsResponse struct {
	Depth              int                           `json:"depth"`
	ByStatus           map[domain.DeliveryStatus]int `json:"by_status"`
	TransportConnected *bool                         `json:"transport_connected,omitempty"`
}

// Failed GET /v1/outbox/failed?limit=50
func (h *OutboxHandler) Failed(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultFailedLimit)
	if limit <= 0 || limit > maxFailedLimit {
		return domain.ErrValidationFailed.WithError(errors.New("limit must be between 1 and 500"))
	}

	entries, err := h.queue.Failed(c.UserContext(), limit)
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}
	if entries == nil {
		entries = []domain.OutboxEntry{}
	}

	return c.JSON(FailedEntriesResponse{Entries: entries, Count: len(entries)})
}

// Requeue POST /v1/outbox/:seq/requeue
func (h *OutboxHandler) Requeue(c *fiber.Ctx) error {
	seq, err := strconv.ParseInt(c.Params("seq"), 10, 64)
	if err != nil || seq <= 0 {
		return domain.ErrValidationFailed.WithError(errors.New("seq must be a positive integer"))
	}

	entry, err := h.queue.Requeue(c.UserContext(), seq)
	record(c, h.audit, audit.Event{EventType: audit.EventOutboxRequeued, Seq: seq}, err)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return domain.ErrInternal.WithError(err)
	}

	return c.JSON(entry)
}

// Stats GET /v1/outbox/stats
func (h *OutboxHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.stats.CountByStatus(c.UserContext())
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}

	resp := OutboxStatsResponse{
		Depth:    h.queue.Depth(),
		ByStatus: counts,
	}
	if h.transport != nil {
		connected := h.transport.Connected()
		resp.TransportConnected = &connected
	}

	return c.JSON(resp)
}
