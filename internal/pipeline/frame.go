package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// frameMessage is the JSON form published by the capture and inference module.
type frameMessage struct {
	Embedding  []float32  `json:"embedding"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// DecodeFrame parses a frame message. A missing capture time is filled with received.
func DecodeFrame(payload []byte, received time.Time) (Frame, error) {
	var msg frameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Frame{}, domain.ErrBadRequest.WithError(fmt.Errorf("decode frame: %w", err))
	}
	if len(msg.Embedding) == 0 {
		return Frame{}, domain.ErrInvalidEmbedding.WithError(errors.New("frame has no embedding"))
	}

	frame := Frame{Embedding: msg.Embedding, CapturedAt: received}
	if msg.CapturedAt != nil {
		frame.CapturedAt = *msg.CapturedAt
	}
	return frame, nil
}
