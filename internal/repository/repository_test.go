package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

func mustVector(t *testing.T, values ...float32) embedding.Vector {
	t.Helper()
	v, err := embedding.New(values)
	require.NoError(t, err)
	return v
}

// IdentityRepository Tests

func TestIdentityRepository_Create(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "new identity with two references",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO identities`).
					WithArgs("alice", "Alice").
					WillReturnRows(pgxmock.NewRows([]string{"enrolled_at"}).AddRow(now))
				mock.ExpectExec(`DELETE FROM identity_embeddings`).
					WithArgs("alice").
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
				mock.ExpectExec(`INSERT INTO identity_embeddings`).
					WithArgs("alice", 0, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`INSERT INTO identity_embeddings`).
					WithArgs("alice", 1, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "already active",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO identities`).
					WithArgs("alice", "Alice").
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr: domain.ErrDuplicateIdentity,
		},
		{
			name: "embedding insert fails",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO identities`).
					WithArgs("alice", "Alice").
					WillReturnRows(pgxmock.NewRows([]string{"enrolled_at"}).AddRow(now))
				mock.ExpectExec(`DELETE FROM identity_embeddings`).
					WithArgs("alice").
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
				mock.ExpectExec(`INSERT INTO identity_embeddings`).
					WithArgs("alice", 0, pgxmock.AnyArg()).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("insert embedding 0: disk full"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			identity := &domain.Identity{
				ID:    "alice",
				Label: "Alice",
				Embeddings: []embedding.Vector{
					mustVector(t, 1, 0, 0),
					mustVector(t, 0, 1, 0),
				},
			}

			repo := NewIdentityRepository(mock)
			err = repo.Create(context.Background(), identity)

			if tt.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tt.wantErr, domain.ErrDuplicateIdentity) {
					assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
				} else {
					assert.Contains(t, err.Error(), tt.wantErr.Error())
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, now, identity.EnrolledAt)
				assert.Nil(t, identity.RevokedAt)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdentityRepository_ListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{"id", "label", "enrolled_at", "embedding"}).
		AddRow("alice", "Alice", now, pgvector.NewVector([]float32{1, 0, 0})).
		AddRow("alice", "Alice", now, pgvector.NewVector([]float32{0, 1, 0})).
		AddRow("bob", "Bob", now, pgvector.NewVector([]float32{0, 0, 1}))

	mock.ExpectQuery(`SELECT i.id, i.label, i.enrolled_at, e.embedding FROM identities i JOIN identity_embeddings e`).
		WillReturnRows(rows)

	repo := NewIdentityRepository(mock)
	identities, err := repo.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "alice", identities[0].ID)
	assert.Len(t, identities[0].Embeddings, 2)
	assert.Equal(t, "bob", identities[1].ID)
	assert.Len(t, identities[1].Embeddings, 1)
	assert.Equal(t, []float32{0, 0, 1}, identities[1].Embeddings[0].Values())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_ListActive_RejectsCorruptEmbedding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "label", "enrolled_at", "embedding"}).
		AddRow("alice", "Alice", time.Now(), pgvector.NewVector([]float32{2, 0, 0}))

	mock.ExpectQuery(`SELECT i.id, i.label`).WillReturnRows(rows)

	repo := NewIdentityRepository(mock)
	_, err = repo.ListActive(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrNotNormalized)
}

func TestIdentityRepository_Revoke(t *testing.T) {
	revokedAt := time.Now()

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "active identity",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE identities SET revoked_at = COALESCE`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows([]string{"revoked_at"}).AddRow(revokedAt))
			},
		},
		{
			name: "unknown identity",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE identities`).
					WithArgs("alice").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: domain.ErrIdentityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			repo := NewIdentityRepository(mock)
			got, err := repo.Revoke(context.Background(), "alice")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, revokedAt, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// OutboxRepository Tests

func entryRow(seq int64, id uuid.UUID, status string, attempts int, at time.Time) []any {
	return []any{
		seq, id, "alice", "Alice", "check_in", at, "dev-1", 0.12,
		status, at, nil,
		attempts, at, "", at,
	}
}

var entryColumnNames = []string{
	"seq", "id", "identity_id", "label", "kind", "occurred_at", "device_id", "distance",
	"status", "created_at", "delivered_at",
	"attempts", "next_retry_at", "last_error", "updated_at",
}

func TestOutboxRepository_Append(t *testing.T) {
	now := time.Now()

	t.Run("assigns seq and writes outbox row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO attendance_records`).
			WithArgs(pgxmock.AnyArg(), "alice", "Alice", "check_in", now, "dev-1", 0.12).
			WillReturnRows(pgxmock.NewRows([]string{"seq", "created_at"}).AddRow(int64(7), now))
		mock.ExpectExec(`INSERT INTO outbox`).
			WithArgs(int64(7), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		record := &domain.AttendanceRecord{
			IdentityID: "alice",
			Label:      "Alice",
			Timestamp:  now,
			DeviceID:   "dev-1",
			Distance:   0.12,
		}

		repo := NewOutboxRepository(mock)
		entry, err := repo.Append(context.Background(), record)

		require.NoError(t, err)
		assert.Equal(t, int64(7), entry.Record.Seq)
		assert.NotEqual(t, uuid.Nil, entry.Record.ID)
		assert.Equal(t, domain.EventCheckIn, entry.Record.Kind)
		assert.Equal(t, domain.StatusPending, entry.Record.Status)
		assert.Equal(t, 0, entry.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown identity", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO attendance_records`).
			WithArgs(pgxmock.AnyArg(), "ghost", "", "check_in", now, "", 0.0).
			WillReturnError(&pgconn.PgError{Code: "23503"})
		mock.ExpectRollback()

		repo := NewOutboxRepository(mock)
		_, err = repo.Append(context.Background(), &domain.AttendanceRecord{IdentityID: "ghost", Timestamp: now})

		assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxRepository_Append_RepeatedRecordID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WithArgs(id, "alice", "", "check_in", now, "", 0.0).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(`WHERE r.id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(entryColumnNames).AddRow(entryRow(12, id, "pending", 0, now)...))
	mock.ExpectRollback()

	repo := NewOutboxRepository(mock)
	entry, err := repo.Append(context.Background(), &domain.AttendanceRecord{ID: id, IdentityID: "alice", Timestamp: now})

	require.NoError(t, err)
	assert.Equal(t, int64(12), entry.Record.Seq)
	assert.Equal(t, id, entry.Record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Pending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	id1, id2 := uuid.New(), uuid.New()
	rows := pgxmock.NewRows(entryColumnNames).
		AddRow(entryRow(1, id1, "pending", 0, now)...).
		AddRow(entryRow(2, id2, "pending", 3, now)...)

	mock.ExpectQuery(`WHERE r.status = 'pending' ORDER BY r.seq`).WillReturnRows(rows)

	repo := NewOutboxRepository(mock)
	entries, err := repo.Pending(context.Background())

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Record.Seq)
	assert.Equal(t, id1, entries[0].Record.ID)
	assert.Equal(t, domain.StatusPending, entries[0].Record.Status)
	assert.Equal(t, domain.EventCheckIn, entries[0].Record.Kind)
	assert.Equal(t, 3, entries[1].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE r.seq = \$1`).WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	repo := NewOutboxRepository(mock)
	_, err = repo.Get(context.Background(), 9)

	assert.ErrorIs(t, err, domain.ErrOutboxEntryNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkDelivered(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "pending entry", affected: 1, want: true},
		{name: "already delivered", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec(`WITH delivered AS`).
				WithArgs(int64(4), now).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			repo := NewOutboxRepository(mock)
			got, err := repo.MarkDelivered(context.Background(), 4, now)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOutboxRepository_RecordFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	next := time.Now().Add(2 * time.Second)
	mock.ExpectExec(`UPDATE outbox SET attempts = \$2`).
		WithArgs(int64(4), 2, next, "broker offline").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewOutboxRepository(mock)
	err = repo.RecordFailure(context.Background(), 4, 2, next, "broker offline")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkFailed_NotPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`WITH failed AS`).
		WithArgs(int64(4), 10, "broker offline").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewOutboxRepository(mock)
	err = repo.MarkFailed(context.Background(), 4, 10, "broker offline")

	assert.ErrorIs(t, err, domain.ErrOutboxEntryNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Requeue(t *testing.T) {
	now := time.Now()
	id := uuid.New()

	t.Run("failed entry goes back to pending", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE attendance_records SET status = 'pending'`).
			WithArgs(int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE outbox SET attempts = 0`).
			WithArgs(int64(3), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`WHERE r.seq = \$1`).
			WithArgs(int64(3)).
			WillReturnRows(pgxmock.NewRows(entryColumnNames).AddRow(entryRow(3, id, "pending", 0, now)...))
		mock.ExpectCommit()

		repo := NewOutboxRepository(mock)
		entry, err := repo.Requeue(context.Background(), 3, now)

		require.NoError(t, err)
		assert.Equal(t, int64(3), entry.Record.Seq)
		assert.Equal(t, domain.StatusPending, entry.Record.Status)
		assert.Equal(t, 0, entry.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entry not failed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE attendance_records SET status = 'pending'`).
			WithArgs(int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		repo := NewOutboxRepository(mock)
		_, err = repo.Requeue(context.Background(), 3, now)

		assert.ErrorIs(t, err, domain.ErrOutboxEntryNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxRepository_CountByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 2).
		AddRow("delivered", 40)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM attendance_records GROUP BY status`).WillReturnRows(rows)

	repo := NewOutboxRepository(mock)
	counts, err := repo.CountByStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusPending])
	assert.Equal(t, 40, counts[domain.StatusDelivered])
	assert.Equal(t, 0, counts[domain.StatusFailedPermanently])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_PruneDelivered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().Add(-720 * time.Hour)
	mock.ExpectExec(`DELETE FROM outbox o USING attendance_records r`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	repo := NewOutboxRepository(mock)
	n, err := repo.PruneDelivered(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// AttendanceRepository Tests

func TestAttendanceRepository_LastCheckIns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-30 * time.Second)

	rows := pgxmock.NewRows([]string{"identity_id", "max"}).
		AddRow("alice", t1).
		AddRow("bob", t2)
	mock.ExpectQuery(`SELECT identity_id, MAX\(occurred_at\)`).WithArgs().WillReturnRows(rows)

	repo := NewAttendanceRepository(mock)
	last, err := repo.LastCheckIns(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"alice": t1, "bob": t2}, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pg error", &pgconn.PgError{Code: "23505"}, true},
		{"other pg error", &pgconn.PgError{Code: "23503"}, false},
		{"message", errors.New("ERROR: duplicate key value violates unique constraint"), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
