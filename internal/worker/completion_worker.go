package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/session"
)

// CompletionRetryDelay is the pause after a failed attempt before the next pop.
const CompletionRetryDelay = 5 * time.Second

// CompletionRecorder stores a scored attempt.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, res *session.Result) error
}

// CompletionWorker re-drives results whose recording failed when the
// session was scored. Recording is idempotent, so a result may be retried
// any number of times.
type CompletionWorker struct {
	records CompletionRecorder
	rdb     *redis.Client
	delay   time.Duration
	log     zerolog.Logger
}

// NewCompletionWorker creates a new CompletionWorker.
func NewCompletionWorker(records CompletionRecorder, rdb *redis.Client, log zerolog.Logger) *CompletionWorker {
	return &CompletionWorker{
		records: records,
		rdb:     rdb,
		delay:   CompletionRetryDelay,
		log:     log.With().Str("component", "completion_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *CompletionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *CompletionWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.CompletionRetryQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.record(ctx, result[1]); err != nil {
		if errors.Is(err, errBadPayload) {
			return
		}
		w.rdb.RPush(ctx, config.WorkerKey.CompletionRetryQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.delay):
		}
	}
}

var errBadPayload = errors.New("bad completion payload")

// record decodes one queued result and stores it.
func (w *CompletionWorker) record(ctx context.Context, raw string) error {
	var res session.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping payload")
		return errBadPayload
	}
	if err := w.records.RecordCompletion(ctx, &res); err != nil {
		w.log.Error().Err(err).
			Str("student_id", res.StudentID).
			Str("version", res.Version).
			Int64("serial", res.Serial).
			Msg("Record error, retrying later")
		return err
	}
	w.log.Info().
		Str("student_id", res.StudentID).
		Str("version", res.Version).
		Int64("serial", res.Serial).
		Msg("Queued completion recorded")
	return nil
}

// drain records all remaining results before shutdown.
func (w *CompletionWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.CompletionRetryQueue).Result()
		if err != nil {
			break
		}
		if err := w.record(ctx, raw); err != nil {
			if errors.Is(err, errBadPayload) {
				continue
			}
			w.rdb.RPush(ctx, config.WorkerKey.CompletionRetryQueue, raw)
			break
		}
		drained++
	}
	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
