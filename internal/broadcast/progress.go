package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	progressWriteRetryDelay = 200 * time.Millisecond
	progressWriteAttempts   = 2
	finalWriteAttempts      = 3
)

// progressReporter persists counter snapshots for the polling UI.
//
// Checkpoint writes are throttled (message-count or wall-clock threshold,
// whichever is crossed first) and best-effort: a store failure is logged and
// the run continues. The terminal write is never throttled because it
// carries the authoritative final state.
type progressReporter struct {
	store JobStore
	id    int64
	cfg   Progress
	log   zerolog.Logger

	lastCount int
	lastAt    time.Time
}

func newProgressReporter(store JobStore, id int64, cfg Progress, log zerolog.Logger) *progressReporter {
	return &progressReporter{
		store: store,
		id:    id,
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// maybeCheckpoint writes {sent, failed, in_progress} if either throttle
// threshold has been crossed since the last write.
func (p *progressReporter) maybeCheckpoint(ctx context.Context, sent, failed int) {
	processed := sent + failed
	now := time.Now()
	if processed-p.lastCount < p.cfg.EveryMessages && now.Sub(p.lastAt) < p.cfg.MinInterval {
		return
	}
	p.write(ctx, sent, failed, progressWriteAttempts, func(c context.Context) error {
		return p.store.UpdateProgress(c, p.id, sent, failed)
	})
	p.lastCount = processed
	p.lastAt = now
}

// finish writes the terminal status. Always attempted, with a slightly
// higher retry budget than checkpoints; gives up only after logging.
func (p *progressReporter) finish(ctx context.Context, status Status, sent, failed int) {
	p.write(ctx, sent, failed, finalWriteAttempts, func(c context.Context) error {
		return p.store.Finish(c, p.id, status, sent, failed)
	})
}

// write retries a store mutation a bounded number of times. Reporting must
// never abort a run, so exhaustion is logged and swallowed.
func (p *progressReporter) write(ctx context.Context, sent, failed, attempts int, fn func(context.Context) error) {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return
		}
		if i == attempts {
			break
		}
		p.log.Warn().
			Int64("broadcast_id", p.id).
			Int("attempt", i).
			Int("attempt_max", attempts).
			Err(err).
			Msg("progress write failed; retrying")
		select {
		case <-ctx.Done():
			// Shutdown: one last immediate try, the final state matters.
			if err = fn(context.WithoutCancel(ctx)); err == nil {
				return
			}
			i = attempts
		case <-time.After(progressWriteRetryDelay):
		}
	}
	p.log.Error().
		Int64("broadcast_id", p.id).
		Int("sent", sent).
		Int("failed", failed).
		Err(err).
		Msg("progress write abandoned")
}
