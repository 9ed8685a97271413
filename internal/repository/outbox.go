package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

const entryColumns = `
	r.seq, r.id, r.identity_id, r.label, r.kind, r.occurred_at, r.device_id, r.distance,
	r.status, r.created_at, r.delivered_at,
	o.attempts, o.next_retry_at, o.last_error, o.updated_at
`

// OutboxRepository persists attendance records together with their delivery state.
type OutboxRepository struct {
	pool PgxPool
}

func NewOutboxRepository(pool PgxPool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Append inserts the record and its outbox row atomically. Seq and CreatedAt are
// assigned by the database.
func (r *OutboxRepository) Append(ctx context.Context, record *domain.AttendanceRecord) (domain.OutboxEntry, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Kind == "" {
		record.Kind = domain.EventCheckIn
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO attendance_records (id, identity_id, label, kind, occurred_at, device_id, distance, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING seq, created_at
	`

	err = tx.QueryRow(ctx, query,
		record.ID,
		record.IdentityID,
		record.Label,
		string(record.Kind),
		record.Timestamp,
		record.DeviceID,
		record.Distance,
	).Scan(&record.Seq, &record.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.OutboxEntry{}, domain.ErrIdentityNotFound
		}
		if isUniqueViolation(err) {
			// retry of an append whose commit succeeded
			return r.getByRecordID(ctx, record.ID)
		}
		return domain.OutboxEntry{}, fmt.Errorf("insert attendance record: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (seq, attempts, next_retry_at, last_error, updated_at) VALUES ($1, 0, $2, '', $2)`,
		record.Seq, record.CreatedAt,
	)
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("insert outbox entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("commit transaction: %w", err)
	}

	record.Status = domain.StatusPending

	return domain.OutboxEntry{
		Record:      *record,
		NextRetryAt: record.CreatedAt,
		UpdatedAt:   record.CreatedAt,
	}, nil
}

// Pending returns every undelivered entry in sequence order.
func (r *OutboxRepository) Pending(ctx context.Context) ([]domain.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM attendance_records r
		JOIN outbox o ON o.seq = r.seq
		WHERE r.status = 'pending'
		ORDER BY r.seq
	`

	return r.list(ctx, "list pending entries", query)
}

// Failed returns permanently failed entries, oldest first.
func (r *OutboxRepository) Failed(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM attendance_records r
		JOIN outbox o ON o.seq = r.seq
		WHERE r.status = 'failed_permanently'
		ORDER BY r.seq
		LIMIT $1
	`

	return r.list(ctx, "list failed entries", query, limit)
}

// Get returns a single entry by sequence number.
func (r *OutboxRepository) Get(ctx context.Context, seq int64) (*domain.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM attendance_records r
		JOIN outbox o ON o.seq = r.seq
		WHERE r.seq = $1
	`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOutboxEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox entry: %w", err)
	}

	return &entry, nil
}

func (r *OutboxRepository) getByRecordID(ctx context.Context, id uuid.UUID) (domain.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM attendance_records r
		JOIN outbox o ON o.seq = r.seq
		WHERE r.id = $1
	`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("get appended record: %w", err)
	}

	return entry, nil
}

// MarkDelivered transitions a pending entry to delivered. It reports false when
// the entry was not pending, so a record is never marked delivered twice.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, seq int64, at time.Time) (bool, error) {
	query := `
		WITH delivered AS (
			UPDATE attendance_records
			SET status = 'delivered', delivered_at = $2
			WHERE seq = $1 AND status = 'pending'
			RETURNING seq
		)
		UPDATE outbox o
		SET updated_at = $2
		FROM delivered d
		WHERE o.seq = d.seq
	`

	result, err := r.pool.Exec(ctx, query, seq, at)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// RecordFailure stores a failed attempt and the time of the next one.
func (r *OutboxRepository) RecordFailure(ctx context.Context, seq int64, attempts int, nextRetryAt time.Time, lastErr string) error {
	query := `
		UPDATE outbox
		SET attempts = $2, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE seq = $1
	`

	result, err := r.pool.Exec(ctx, query, seq, attempts, nextRetryAt, lastErr)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrOutboxEntryNotFound
	}

	return nil
}

// MarkFailed moves a pending entry to failed_permanently.
func (r *OutboxRepository) MarkFailed(ctx context.Context, seq int64, attempts int, lastErr string) error {
	query := `
		WITH failed AS (
			UPDATE attendance_records
			SET status = 'failed_permanently'
			WHERE seq = $1 AND status = 'pending'
			RETURNING seq
		)
		UPDATE outbox o
		SET attempts = $2, last_error = $3, updated_at = NOW()
		FROM failed f
		WHERE o.seq = f.seq
	`

	result, err := r.pool.Exec(ctx, query, seq, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrOutboxEntryNotFound
	}

	return nil
}

// Requeue returns a permanently failed entry to pending with a fresh attempt budget.
func (r *OutboxRepository) Requeue(ctx context.Context, seq int64, at time.Time) (*domain.OutboxEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx,
		`UPDATE attendance_records SET status = 'pending' WHERE seq = $1 AND status = 'failed_permanently'`,
		seq,
	)
	if err != nil {
		return nil, fmt.Errorf("requeue record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, domain.ErrOutboxEntryNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE outbox SET attempts = 0, next_retry_at = $2, last_error = '', updated_at = $2 WHERE seq = $1`,
		seq, at,
	)
	if err != nil {
		return nil, fmt.Errorf("reset outbox entry: %w", err)
	}

	query := `SELECT ` + entryColumns + `
		FROM attendance_records r
		JOIN outbox o ON o.seq = r.seq
		WHERE r.seq = $1
	`

	entry, err := scanEntry(tx.QueryRow(ctx, query, seq))
	if err != nil {
		return nil, fmt.Errorf("reload outbox entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &entry, nil
}

// CountByStatus returns the number of records per delivery status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM attendance_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[domain.DeliveryStatus]int{
		domain.StatusPending:           0,
		domain.StatusDelivered:         0,
		domain.StatusFailedPermanently: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.DeliveryStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

// PruneDelivered drops outbox rows of records delivered before the cutoff.
// The attendance records themselves are kept as the audit trail.
func (r *OutboxRepository) PruneDelivered(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox o
		USING attendance_records r
		WHERE o.seq = r.seq AND r.status = 'delivered' AND r.delivered_at < $1
	`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("prune delivered entries: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *OutboxRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (domain.OutboxEntry, error) {
	var (
		entry        domain.OutboxEntry
		kind, status string
	)

	rec := &entry.Record
	err := row.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.IdentityID,
		&rec.Label,
		&kind,
		&rec.Timestamp,
		&rec.DeviceID,
		&rec.Distance,
		&status,
		&rec.CreatedAt,
		&rec.DeliveredAt,
		&entry.Attempts,
		&entry.NextRetryAt,
		&entry.LastError,
		&entry.UpdatedAt,
	)
	if err != nil {
		return domain.OutboxEntry{}, err
	}

	rec.Kind = domain.EventKind(kind)
	rec.Status = domain.DeliveryStatus(status)

	return entry, nil
}
