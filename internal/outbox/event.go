package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// Event is the wire form of an attendance record. Seq and RecordID let
// consumers drop duplicates caused by an ambiguous acknowledgment.
type Event struct {
	Seq        int64            `json:"seq"`
	RecordID   uuid.UUID        `json:"record_id"`
	IdentityID string           `json:"identity_id"`
	Label      string           `json:"label"`
	Kind       domain.EventKind `json:"kind"`
	Timestamp  time.Time        `json:"timestamp"`
	DeviceID   string           `json:"device_id"`
	Distance   float64          `json:"distance"`
}

func NewEvent(record domain.AttendanceRecord) Event {
	return Event{
		Seq:        record.Seq,
		RecordID:   record.ID,
		IdentityID: record.IdentityID,
		Label:      record.Label,
		Kind:       record.Kind,
		Timestamp:  record.Timestamp.UTC(),
		DeviceID:   record.DeviceID,
		Distance:   record.Distance,
	}
}

func EncodeEvent(record domain.AttendanceRecord) ([]byte, error) {
	payload, err := json.Marshal(NewEvent(record))
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", record.Seq, err)
	}
	return payload, nil
}

func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
