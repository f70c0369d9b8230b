package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-assess/internal/model"
)

// RecoveryRepository stores crash-recovery snapshots.
type RecoveryRepository struct {
	pool *pgxpool.Pool
}

// NewRecoveryRepository creates a new RecoveryRepository.
func NewRecoveryRepository(pool *pgxpool.Pool) *RecoveryRepository {
	return &RecoveryRepository{pool: pool}
}

const insertRecoverySQL = `INSERT INTO assessment_recoveries (id, interaction_id, student_id, version, reason, state, record, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

// Insert stores one snapshot. Re-inserting the same ID is a no-op so queue
// retries stay idempotent.
func (r *RecoveryRepository) Insert(ctx context.Context, s *model.RecoverySnapshot) error {
	_, err := r.pool.Exec(ctx, insertRecoverySQL,
		s.ID, s.InteractionID, s.StudentID, s.Version, s.Reason, s.State, s.Record, s.CreatedAt,
	)
	return err
}

// InsertBatch stores snaps in one round trip.
func (r *RecoveryRepository) InsertBatch(ctx context.Context, snaps []*model.RecoverySnapshot) error {
	batch := &pgx.Batch{}
	for _, s := range snaps {
		batch.Queue(insertRecoverySQL,
			s.ID, s.InteractionID, s.StudentID, s.Version, s.Reason, s.State, s.Record, s.CreatedAt,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListByStudent returns the newest snapshots of a student.
func (r *RecoveryRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]model.RecoverySnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, interaction_id, student_id, version, reason, state, record, created_at
		 FROM assessment_recoveries
		 WHERE student_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, studentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecoverySnapshot
	for rows.Next() {
		var s model.RecoverySnapshot
		if err := rows.Scan(&s.ID, &s.InteractionID, &s.StudentID, &s.Version, &s.Reason, &s.State, &s.Record, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
