package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
)

const (
	RecoveryBatchSize    = 50
	RecoveryBatchTimeout = 2 * time.Second
	RecoveryPollTimeout  = 1 * time.Second
)

// RecoveryStore persists recovery snapshots.
type RecoveryStore interface {
	Insert(ctx context.Context, s *model.RecoverySnapshot) error
	InsertBatch(ctx context.Context, snaps []*model.RecoverySnapshot) error
}

// RecoveryWorker drains recovery_snapshot_queue into PostgreSQL in batches.
type RecoveryWorker struct {
	repo RecoveryStore
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewRecoveryWorker(repo RecoveryStore, rdb *redis.Client, log zerolog.Logger) *RecoveryWorker {
	return &RecoveryWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "recovery_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *RecoveryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RecoveryWorker started")

	batch := make([]*model.RecoverySnapshot, 0, RecoveryBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= RecoveryBatchSize || time.Since(lastFlush) >= RecoveryBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			return

		default:
			item, err := w.rdb.BLPop(ctx, RecoveryPollTimeout, config.WorkerKey.RecoverySnapshotQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			snap, err := decodeSnapshot(item[1])
			if err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, snap)
		}
	}
}

func decodeSnapshot(raw string) (*model.RecoverySnapshot, error) {
	var s model.RecoverySnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ----------------------------------------------------------------
// Batch insert with single-row fallback
// ----------------------------------------------------------------

// flushSafe returns the snapshots that could not be stored, after pushing
// them back onto the queue.
func (w *RecoveryWorker) flushSafe(ctx context.Context, batch []*model.RecoverySnapshot) []*model.RecoverySnapshot {
	if len(batch) == 0 {
		return nil
	}
	err := w.repo.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Recovery snapshots stored")
		return nil
	}
	w.log.Warn().Err(err).Msg("Batch insert failed, using fallback")

	var failed []*model.RecoverySnapshot
	for _, s := range batch {
		if err := w.repo.Insert(ctx, s); err != nil {
			w.log.Error().Err(err).
				Str("interaction", s.InteractionID).
				Str("reason", s.Reason).
				Msg("Insert failed, requeueing")
			failed = append(failed, s)
			if w.rdb != nil {
				raw, _ := json.Marshal(s)
				w.rdb.RPush(ctx, config.WorkerKey.RecoverySnapshotQueue, raw)
			}
		}
	}
	return failed
}

// drain stores everything still queued before shutdown.
func (w *RecoveryWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.RecoverySnapshotQueue).Result()
		if err != nil {
			break
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if err := w.repo.Insert(ctx, snap); err != nil {
			w.log.Error().Err(err).Msg("Drain insert error")
			w.rdb.RPush(ctx, config.WorkerKey.RecoverySnapshotQueue, raw)
			break
		}
		drained++
	}
	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining snapshots")
	}
}
