package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/chamada/internal/database"
)

const Version = "0.1.0"

// TransportStatus reports the broker connection.
type TransportStatus interface {
	Connected() bool
}

type HealthHandler struct {
	db        database.Pinger
	transport TransportStatus
}

// NewHealthHandler creates a health handler. Either dependency may be nil.
func NewHealthHandler(db database.Pinger, transport TransportStatus) *HealthHandler {
	return &HealthHandler{db: db, transport: transport}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Database  string `json:"database,omitempty"`
	Transport string `json:"transport,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// Ready requires the database. A disconnected broker is reported but does not
// fail readiness, because records keep accumulating in the outbox meanwhile.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	resp := HealthResponse{Status: "ready"}

	if h.db != nil {
		if err := database.HealthCheck(context.Background(), h.db); err != nil {
			resp.Status = "unavailable"
			resp.Database = "down"
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
		resp.Database = "up"
	}

	if h.transport != nil {
		resp.Transport = "disconnected"
		if h.transport.Connected() {
			resp.Transport = "connected"
		}
	}

	return c.JSON(resp)
}
