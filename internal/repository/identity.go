package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

type IdentityRepository struct {
	pool PgxPool
}

func NewIdentityRepository(pool PgxPool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Create stores a new identity with its reference embeddings in one transaction.
// A revoked identity with the same ID is reactivated and its references replaced.
func (r *IdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO identities (id, label, enrolled_at, revoked_at)
		VALUES ($1, $2, NOW(), NULL)
		ON CONFLICT (id) DO UPDATE
			SET label = EXCLUDED.label, enrolled_at = NOW(), revoked_at = NULL
			WHERE identities.revoked_at IS NOT NULL
		RETURNING enrolled_at
	`

	err = tx.QueryRow(ctx, query, identity.ID, identity.Label).Scan(&identity.EnrolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrDuplicateIdentity
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM identity_embeddings WHERE identity_id = $1`, identity.ID); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}

	for i, vec := range identity.Embeddings {
		_, err := tx.Exec(ctx,
			`INSERT INTO identity_embeddings (identity_id, position, embedding) VALUES ($1, $2, $3)`,
			identity.ID, i, pgvector.NewVector(vec.Values()),
		)
		if err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	identity.RevokedAt = nil
	return nil
}

// ListActive loads every active identity with its references, ordered by ID.
func (r *IdentityRepository) ListActive(ctx context.Context) ([]domain.Identity, error) {
	query := `
		SELECT i.id, i.label, i.enrolled_at, e.embedding
		FROM identities i
		JOIN identity_embeddings e ON e.identity_id = i.id
		WHERE i.revoked_at IS NULL
		ORDER BY i.id, e.position
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active identities: %w", err)
	}
	defer rows.Close()

	var identities []domain.Identity
	for rows.Next() {
		var (
			id, label  string
			enrolledAt time.Time
			stored     pgvector.Vector
		)
		if err := rows.Scan(&id, &label, &enrolledAt, &stored); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}

		vec, err := embedding.FromNormalized(stored.Slice())
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}

		if n := len(identities); n > 0 && identities[n-1].ID == id {
			identities[n-1].Embeddings = append(identities[n-1].Embeddings, vec)
			continue
		}

		identities = append(identities, domain.Identity{
			ID:         id,
			Label:      label,
			Embeddings: []embedding.Vector{vec},
			EnrolledAt: enrolledAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}

	return identities, nil
}

// Revoke soft-deletes an identity. Revoking twice keeps the first timestamp.
func (r *IdentityRepository) Revoke(ctx context.Context, id string) (time.Time, error) {
	query := `
		UPDATE identities
		SET revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = $1
		RETURNING revoked_at
	`

	var revokedAt time.Time
	err := r.pool.QueryRow(ctx, query, id).Scan(&revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, domain.ErrIdentityNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke identity: %w", err)
	}

	return revokedAt, nil
}
