package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies a match by distance.
type Tier string

const (
	TierAccepted  Tier = "accepted"
	TierAmbiguous Tier = "ambiguous"
	TierRejected  Tier = "rejected"
)

// MatchResult is produced per probe and consumed immediately by the deduplicator.
// IdentityID is empty unless Tier is TierAccepted.
type MatchResult struct {
	IdentityID string  `json:"identity_id,omitempty"`
	Label      string  `json:"label,omitempty"`
	Distance   float64 `json:"distance"`
	Tier       Tier    `json:"tier"`
}

// EventKind is the type of attendance event.
type EventKind string

const EventCheckIn EventKind = "check_in"

// DeliveryStatus tracks an attendance record through the outbox.
type DeliveryStatus string

const (
	StatusPending           DeliveryStatus = "pending"
	StatusDelivered         DeliveryStatus = "delivered"
	StatusFailedPermanently DeliveryStatus = "failed_permanently"
)

// AttendanceRecord is the append-only audit entry for an accepted, non-duplicate match.
// Seq is assigned by storage on append and increases strictly with enqueue order.
type AttendanceRecord struct {
	ID          uuid.UUID      `json:"id"`
	Seq         int64          `json:"seq"`
	IdentityID  string         `json:"identity_id"`
	Label       string         `json:"label"`
	Kind        EventKind      `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	DeviceID    string         `json:"device_id"`
	Distance    float64        `json:"distance"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// OutboxEntry wraps a record with its delivery metadata.
type OutboxEntry struct {
	Record      AttendanceRecord `json:"record"`
	Attempts    int              `json:"attempts"`
	NextRetryAt time.Time        `json:"next_retry_at"`
	LastError   string           `json:"last_error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// OutcomeKind is what the pipeline reports back for one probe.
type OutcomeKind string

const (
	OutcomeAccepted   OutcomeKind = "accepted"
	OutcomeAmbiguous  OutcomeKind = "ambiguous"
	OutcomeRejected   OutcomeKind = "rejected"
	OutcomeSuppressed OutcomeKind = "suppressed"
)

// Outcome of processing one probe embedding.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	IdentityID string      `json:"identity_id,omitempty"`
	RecordID   uuid.UUID   `json:"record_id,omitempty"`
	Seq        int64       `json:"seq,omitempty"`
	Distance   float64     `json:"distance"`
}
