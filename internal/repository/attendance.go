package repository

import (
	"context"
	"fmt"
	"time"
)

type AttendanceRepository struct {
	pool PgxPool
}

func NewAttendanceRepository(pool PgxPool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// LastCheckIns returns the latest emitted check-in per identity. It seeds the
// deduplicator on startup so a restart inside a cool-down does not repeat a
// record. Timestamps are capture times, so no wall-clock cutoff applies.
func (r *AttendanceRepository) LastCheckIns(ctx context.Context) (map[string]time.Time, error) {
	query := `
		SELECT identity_id, MAX(occurred_at)
		FROM attendance_records
		GROUP BY identity_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list last check-ins: %w", err)
	}
	defer rows.Close()

	last := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		last[id] = at
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check-ins: %w", err)
	}

	return last, nil
}
