package broadcast

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// runner owns the state machine for one broadcast job:
//
//	queued -> in_progress -> {completed | partial | failed | cancelled}
//
// It resolves the audience once, fans batches out through the sender, and
// writes exactly one terminal status. Counters are mutated only by the
// runner goroutine; batch sends report outcomes positionally.
type runner struct {
	id       int64
	cfg      JobConfig
	profile  Profile
	sender   *sender
	resolver Resolver
	reporter *progressReporter
	token    *CancelToken
	log      zerolog.Logger
}

func (r *runner) run(ctx context.Context) {
	start := time.Now()
	sent, failed := 0, 0

	defer r.token.markStopped()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Int64("broadcast_id", r.id).
				Any("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("broadcast run panicked")
			r.reporter.finish(ctx, StatusFailed, sent, failed)
		}
	}()

	if err := r.reporter.store.MarkStarted(ctx, r.id); err != nil {
		r.log.Error().Int64("broadcast_id", r.id).Err(err).Msg("cannot mark broadcast started")
		r.reporter.finish(ctx, StatusFailed, 0, 0)
		return
	}

	recipients, err := r.resolver.Resolve(ctx, r.cfg.Channel, r.cfg.Target)
	if err != nil {
		r.log.Error().
			Int64("broadcast_id", r.id).
			Str("target", r.cfg.Target).
			Err(err).
			Msg("recipient resolution failed")
		r.reporter.finish(ctx, StatusFailed, sent, failed)
		return
	}
	total := len(recipients)
	if err := r.reporter.store.SetTotal(ctx, r.id, total); err != nil {
		r.log.Error().Int64("broadcast_id", r.id).Err(err).Msg("cannot persist audience size")
		r.reporter.finish(ctx, StatusFailed, sent, failed)
		return
	}

	// The audience was computed but nothing was sent yet.
	if r.token.StopRequested() || ctx.Err() != nil {
		r.reporter.finish(ctx, StatusCancelled, 0, 0)
		return
	}
	if total == 0 {
		r.log.Info().Int64("broadcast_id", r.id).Str("target", r.cfg.Target).Msg("no recipients matched")
		r.reporter.finish(ctx, StatusCompleted, 0, 0)
		return
	}

	r.log.Info().
		Int64("broadcast_id", r.id).
		Str("channel", string(r.cfg.Channel)).
		Str("target", r.cfg.Target).
		Int("total", total).
		Int("batch_size", r.profile.BatchSize).
		Dur("batch_delay", r.profile.BatchDelay).
		Msg("broadcast started")

	for batch := range batches(recipients, r.profile.BatchSize) {
		// Stop wins at the batch boundary: completed in-flight sends from
		// the previous batch are counted, no new sends start.
		if r.token.StopRequested() || ctx.Err() != nil {
			r.reporter.finish(ctx, StatusCancelled, sent, failed)
			r.log.Info().
				Int64("broadcast_id", r.id).
				Int("sent", sent).
				Int("failed", failed).
				Msg("broadcast cancelled")
			return
		}

		for _, out := range r.dispatch(ctx, batch) {
			switch out {
			case OutcomeDelivered:
				sent++
			case OutcomeFailed:
				failed++
			}
		}

		r.reporter.maybeCheckpoint(ctx, sent, failed)
		r.pause(ctx)
	}

	status := StatusCompleted
	if failed > 0 {
		status = StatusPartial
	}
	r.reporter.finish(ctx, status, sent, failed)

	evt := r.log.Info()
	if failed > 0 {
		evt = r.log.Warn()
	}
	evt.Int64("broadcast_id", r.id).
		Int("total", total).
		Int("sent", sent).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("broadcast finished")
}

// dispatch launches one batch with full fan-out and waits for every send to
// resolve. Completion order within the batch is unspecified; the sender's
// semaphore and limiter do the actual pacing.
func (r *runner) dispatch(ctx context.Context, batch []Recipient) []Outcome {
	outcomes := make([]Outcome, len(batch))
	var wg sync.WaitGroup
	for i, rcpt := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = r.sender.sendOne(ctx, r.token, r.cfg, rcpt)
		}()
	}
	wg.Wait()
	return outcomes
}

// pause applies the inter-batch delay, an independent throughput governor on
// top of the sender's token bucket.
func (r *runner) pause(ctx context.Context) {
	if r.profile.BatchDelay <= 0 {
		return
	}
	tmr := time.NewTimer(r.profile.BatchDelay)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
	case <-tmr.C:
	}
}
