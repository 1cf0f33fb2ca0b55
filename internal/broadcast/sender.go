package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// sender issues single sends under the channel profile's pacing contract:
// a counting semaphore bounds in-flight sends, a token bucket bounds the
// attempt rate, and a shared cooldown stamp pauses every caller after a
// provider throttle signal.
//
// One sender belongs to one run; its counters and cooldown are not shared
// across jobs.
type sender struct {
	id        int64
	channel   Channel
	transport Transport
	log       zerolog.Logger

	limiter  *rate.Limiter
	sem      chan struct{}
	retryMax int

	// cooldownUntil holds a unix-nano resume-not-before stamp. Every sender
	// goroutine of the run checks it before attempting a send, which keeps a
	// throttle event from turning into a retry storm.
	cooldownUntil atomic.Int64
}

func newSender(id int64, ch Channel, p Profile, tr Transport, log zerolog.Logger) *sender {
	return &sender{
		id:        id,
		channel:   ch,
		transport: tr,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(p.RatePerSec), p.RatePerSec),
		sem:       make(chan struct{}, p.Concurrency),
		retryMax:  p.RetryMax,
	}
}

// sendOne delivers cfg to one recipient with bounded retry. It never
// returns an error: every path ends in a final per-recipient outcome.
func (s *sender) sendOne(ctx context.Context, token *CancelToken, cfg JobConfig, r Recipient) Outcome {
	if !r.Addressable(s.channel) {
		return OutcomeSkipped
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return OutcomeFailed
	}
	defer func() { <-s.sem }()

	content := cfg.Render(r)

	for attempt := 1; attempt <= s.retryMax; attempt++ {
		if err := s.awaitCooldown(ctx); err != nil {
			return OutcomeFailed
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return OutcomeFailed
		}

		err := s.transport.Send(ctx, r, content)
		if err == nil {
			return OutcomeDelivered
		}

		if wait, ok := RetryAfterDelay(err); ok {
			// Provider asked us to slow down. Pad the advisory wait and
			// stall the whole run, then retry within the same attempt cap.
			wait += floodPad
			s.prolongCooldown(wait)
			s.log.Warn().
				Int64("broadcast_id", s.id).
				Int("attempt", attempt).
				Int("attempt_max", s.retryMax).
				Dur("wait", wait).
				Msg("provider throttle; run-wide cooldown")
			if !s.sleep(ctx, token, wait) {
				return OutcomeFailed
			}
			continue
		}

		if IsNoRetry(err) {
			s.log.Debug().
				Int64("broadcast_id", s.id).
				Err(err).
				Msg("permanent send failure")
			return OutcomeFailed
		}

		s.log.Error().
			Int64("broadcast_id", s.id).
			Int("attempt", attempt).
			Int("attempt_max", s.retryMax).
			Err(err).
			Msg("send failed")
		if attempt == s.retryMax {
			break
		}
		if !s.sleep(ctx, token, retryBackoff(attempt)) {
			return OutcomeFailed
		}
	}
	return OutcomeFailed
}

// floodPad is added on top of the provider's advisory wait before sends
// resume. Variable so tests can shrink it.
var floodPad = time.Second

// retryBackoff grows linearly: 500ms, 1s, 1.5s, ...
func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}

func (s *sender) prolongCooldown(wait time.Duration) {
	until := time.Now().Add(wait).UnixNano()
	for {
		cur := s.cooldownUntil.Load()
		if cur >= until {
			return
		}
		if s.cooldownUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// awaitCooldown blocks until the shared resume-not-before stamp has passed.
func (s *sender) awaitCooldown(ctx context.Context) error {
	for {
		until := s.cooldownUntil.Load()
		now := time.Now().UnixNano()
		if until <= now {
			return nil
		}
		tmr := time.NewTimer(time.Duration(until - now))
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

// sleep waits for d, honoring cancellation: a requested stop aborts the
// remaining retries for this recipient.
func (s *sender) sleep(ctx context.Context, token *CancelToken, d time.Duration) bool {
	if token.StopRequested() {
		return false
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
	}
	return !token.StopRequested()
}
