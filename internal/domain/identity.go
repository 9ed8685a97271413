package domain

import (
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

// Identity is an enrolled person with one or more reference embeddings (multi-pose).
// Identities are soft-revoked and never deleted while attendance references them.
type Identity struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	Embeddings []embedding.Vector `json:"-"`
	EnrolledAt time.Time          `json:"enrolled_at"`
	RevokedAt  *time.Time         `json:"revoked_at,omitempty"`
}

// Active reports whether the identity takes part in matching.
func (i *Identity) Active() bool {
	return i.RevokedAt == nil
}
