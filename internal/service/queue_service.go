package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/session"
)

// QueueService pushes background work onto the Redis lists drained by the
// workers. It implements session.Recovery.
type QueueService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewQueueService creates a new QueueService.
func NewQueueService(rdb *redis.Client, log zerolog.Logger) *QueueService {
	return &QueueService{
		rdb: rdb,
		log: log.With().Str("component", "queue_service").Logger(),
	}
}

// EnqueueCompletion schedules a result whose recording failed for another
// attempt by the completion retry worker.
func (q *QueueService) EnqueueCompletion(ctx context.Context, res *session.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.CompletionRetryQueue, data).Err(); err != nil {
		return fmt.Errorf("enqueue completion: %w", err)
	}
	q.log.Warn().
		Str("student_id", res.StudentID).
		Str("version", res.Version).
		Int64("serial", res.Serial).
		Msg("Completion queued for retry")
	return nil
}

// WriteRecovery implements session.Recovery.
func (q *QueueService) WriteRecovery(ctx context.Context, rec *session.Record, reason string) error {
	snap, err := NewRecoverySnapshot(rec, reason, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.RecoverySnapshotQueue, data).Err()
}

// NewRecoverySnapshot wraps one session record for storage.
func NewRecoverySnapshot(rec *session.Record, reason string, now time.Time) (*model.RecoverySnapshot, error) {
	var buf bytes.Buffer
	if err := session.WriteRecords(&buf, []*session.Record{rec}); err != nil {
		return nil, err
	}
	return &model.RecoverySnapshot{
		ID:            uuid.New(),
		InteractionID: rec.Interaction,
		StudentID:     rec.Student,
		Version:       rec.Assessment,
		Reason:        reason,
		State:         rec.State,
		Record:        buf.String(),
		CreatedAt:     now.UTC(),
	}, nil
}
