// Package audit records operator actions on biometric enrollments and the
// delivery queue.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of auditable action
type EventType string

const (
	EventIdentityEnrolled   EventType = "IDENTITY_ENROLLED"
	EventIdentityRevoked    EventType = "IDENTITY_REVOKED"
	EventCoolDownOverridden EventType = "COOLDOWN_OVERRIDDEN"
	EventOutboxRequeued     EventType = "OUTBOX_REQUEUED"
)

// Event is one audited operator action. Embeddings are never part of it.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  EventType         `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	Seq        int64             `json:"seq,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
}

type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger writes audit events to the application log under component=audit.
type SlogLogger struct {
	logger *slog.Logger
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{
		logger: logger.With("component", "audit"),
	}
}

// Log writes the event as one audit_event record. Failed actions are logged at
// warn level with their error.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.Time("at", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", event.IdentityID))
	}
	if event.Seq != 0 {
		attrs = append(attrs, slog.Int64("seq", event.Seq))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Error))
	}

	l.logger.LogAttrs(ctx, level, "audit_event", attrs...)
	return nil
}

// NoOpLogger discards events
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, Event) error {
	return nil
}
