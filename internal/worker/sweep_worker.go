package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper purges expired sessions and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// SweepWorker runs the session purge on a fixed interval.
type SweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
}

// NewSweepWorker creates a new SweepWorker.
func NewSweepWorker(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *SweepWorker {
	return &SweepWorker{
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "sweep_worker").Logger(),
	}
}

// Start ticks until ctx is cancelled. Call in a goroutine.
func (w *SweepWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			if n := w.sweeper.Sweep(ctx); n > 0 {
				w.log.Info().Int("purged", n).Msg("Sweep finished")
			}
		}
	}
}
