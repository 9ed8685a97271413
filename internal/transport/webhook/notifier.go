// Package webhook posts operator alerts as signed JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

const (
	SignatureHeader = "X-Chamada-Signature"
	EventHeader     = "X-Chamada-Event"

	EventDeliveryFailed = "outbox.delivery_failed"
)

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Notifier sends an alert for every outbox entry whose delivery attempts are
// exhausted. It is a second channel next to the broker alert topic, so it
// still reaches an operator while the broker is the thing that is down.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// EventPayload is the body of every webhook call.
type EventPayload struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type deliveryFailure struct {
	Seq        int64     `json:"seq"`
	RecordID   string    `json:"record_id"`
	IdentityID string    `json:"identity_id"`
	DeviceID   string    `json:"device_id"`
	CheckInAt  time.Time `json:"check_in_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
}

func (n *Notifier) NotifyFailure(ctx context.Context, entry domain.OutboxEntry) error {
	return n.send(ctx, EventPayload{
		Type:      EventDeliveryFailed,
		Timestamp: entry.UpdatedAt.UTC(),
		Data: deliveryFailure{
			Seq:        entry.Record.Seq,
			RecordID:   entry.Record.ID.String(),
			IdentityID: entry.Record.IdentityID,
			DeviceID:   entry.Record.DeviceID,
			CheckInAt:  entry.Record.Timestamp.UTC(),
			Attempts:   entry.Attempts,
			LastError:  entry.LastError,
		},
	})
}

func (n *Notifier) send(ctx context.Context, event EventPayload) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event.Type)
	req.Header.Set("User-Agent", "Chamada-Webhook/1.0")
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	n.logger.Info("webhook alert sent", "type", event.Type, "status", resp.StatusCode)
	return nil
}
