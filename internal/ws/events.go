package ws

import "time"

type EventType string

const (
	EventOutcome        EventType = "attendance.outcome"
	EventDeliveryFailed EventType = "outbox.delivery_failed"
)

type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryFailure is the payload of EventDeliveryFailed. Operators requeue it by Seq.
type DeliveryFailure struct {
	Seq        int64  `json:"seq"`
	RecordID   string `json:"record_id"`
	IdentityID string `json:"identity_id"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error"`
}
