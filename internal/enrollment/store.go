// Package enrollment keeps the set of enrolled identities in memory, backed by
// durable storage. Reads are lock-free over an immutable snapshot; writes commit
// to storage first and then publish a new snapshot.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

// Repository is the durable side of the store.
type Repository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	ListActive(ctx context.Context) ([]domain.Identity, error)
	Revoke(ctx context.Context, id string) (time.Time, error)
}

type snapshot struct {
	identities []domain.Identity // sorted by ID
	byID       map[string]int
	version    uint64
}

func newSnapshot(identities []domain.Identity, version uint64) *snapshot {
	sort.Slice(identities, func(i, j int) bool { return identities[i].ID < identities[j].ID })

	byID := make(map[string]int, len(identities))
	for i, identity := range identities {
		byID[identity.ID] = i
	}

	return &snapshot{identities: identities, byID: byID, version: version}
}

// Store holds active identities. Safe for concurrent use.
type Store struct {
	repo   Repository
	dim    int
	logger *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewStore creates an empty store. dim is the embedding dimension every
// reference must have; zero accepts the dimension of the first enrollment.
func NewStore(repo Repository, dim int, logger *slog.Logger) *Store {
	s := &Store{repo: repo, dim: dim, logger: logger}
	s.current.Store(newSnapshot(nil, 0))
	return s
}

// Load replaces the in-memory set with what storage holds. Called once at
// startup; an error here means the store cannot be trusted.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	identities, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}

	for _, identity := range identities {
		for _, ref := range identity.Embeddings {
			if s.dim != 0 && ref.Dim() != s.dim {
				return fmt.Errorf("identity %s: %w", identity.ID,
					domain.ErrDimensionMismatch.WithError(fmt.Errorf("stored dimension %d, configured %d", ref.Dim(), s.dim)))
			}
		}
	}

	prev := s.current.Load()
	s.current.Store(newSnapshot(identities, prev.version+1))

	s.logger.Info("enrollment store loaded", "identities", len(identities))
	return nil
}

// Enroll registers an identity with one or more reference embeddings. Each
// reference is normalized on creation.
func (s *Store) Enroll(ctx context.Context, id, label string, embeddings [][]float32) (domain.Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Identity{}, domain.ErrValidationFailed.WithError(errors.New("identity id is required"))
	}
	if len(embeddings) == 0 {
		return domain.Identity{}, domain.ErrValidationFailed.WithError(errors.New("at least one embedding is required"))
	}
	if label == "" {
		label = id
	}

	refs, err := s.buildReferences(embeddings)
	if err != nil {
		return domain.Identity{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	if _, ok := prev.byID[id]; ok {
		return domain.Identity{}, domain.ErrDuplicateIdentity
	}

	identity := domain.Identity{ID: id, Label: label, Embeddings: refs}
	if err := s.repo.Create(ctx, &identity); err != nil {
		return domain.Identity{}, err
	}

	next := make([]domain.Identity, 0, len(prev.identities)+1)
	next = append(next, prev.identities...)
	next = append(next, identity)
	s.current.Store(newSnapshot(next, prev.version+1))

	s.logger.Info("identity enrolled", "identity_id", id, "references", len(refs))
	return identity, nil
}

func (s *Store) buildReferences(embeddings [][]float32) ([]embedding.Vector, error) {
	refs := make([]embedding.Vector, 0, len(embeddings))
	dim := s.dim

	for i, values := range embeddings {
		vec, err := embedding.New(values)
		if err != nil {
			return nil, domain.ErrInvalidEmbedding.WithError(fmt.Errorf("embedding %d: %w", i, err))
		}

		if dim == 0 {
			dim = s.currentDim()
		}
		if dim == 0 {
			dim = vec.Dim()
		}
		if vec.Dim() != dim {
			return nil, domain.ErrInvalidEmbedding.WithError(
				fmt.Errorf("embedding %d: %w: got %d, want %d", i, embedding.ErrDimensionMismatch, vec.Dim(), dim))
		}

		refs = append(refs, vec)
	}

	return refs, nil
}

// currentDim is the dimension of already enrolled references, or 0 when empty.
func (s *Store) currentDim() int {
	snap := s.current.Load()
	if len(snap.identities) == 0 || len(snap.identities[0].Embeddings) == 0 {
		return 0
	}
	return snap.identities[0].Embeddings[0].Dim()
}

// Revoke soft-deletes an identity; it stops matching immediately. Revoking an
// already revoked identity succeeds.
func (s *Store) Revoke(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.repo.Revoke(ctx, id); err != nil {
		return err
	}

	prev := s.current.Load()
	idx, ok := prev.byID[id]
	if !ok {
		return nil
	}

	next := make([]domain.Identity, 0, len(prev.identities)-1)
	next = append(next, prev.identities[:idx]...)
	next = append(next, prev.identities[idx+1:]...)
	s.current.Store(newSnapshot(next, prev.version+1))

	s.logger.Info("identity revoked", "identity_id", id)
	return nil
}

// AllActive yields the active identities of the snapshot current at the start
// of each iteration, in ID order.
func (s *Store) AllActive() iter.Seq[domain.Identity] {
	return func(yield func(domain.Identity) bool) {
		snap := s.current.Load()
		for _, identity := range snap.identities {
			if !yield(identity) {
				return
			}
		}
	}
}

// Get returns an active identity.
func (s *Store) Get(id string) (domain.Identity, error) {
	snap := s.current.Load()
	idx, ok := snap.byID[id]
	if !ok {
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	return snap.identities[idx], nil
}

// Len returns the number of active identities.
func (s *Store) Len() int {
	return len(s.current.Load().identities)
}

// Version increases on every change to the active set.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}
