package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func shrinkFloodPad(t *testing.T, d time.Duration) {
	t.Helper()
	old := floodPad
	floodPad = d
	t.Cleanup(func() { floodPad = old })
}

func TestSendOneThrottleRetriesAfterAdvisoryWait(t *testing.T) {
	shrinkFloodPad(t, 10*time.Millisecond)
	advisory := 40 * time.Millisecond

	tr := newFakeTransport()
	tr.script = func(_ Recipient, attempt int) error {
		if attempt == 1 {
			return RetryAfter(errBoom, advisory)
		}
		return nil
	}
	s := newSender(1, ChannelMessage, testProfile(), tr, testLogger())

	start := time.Now()
	out := s.sendOne(context.Background(), &CancelToken{}, messageJob(), Recipient{ChatID: 1})

	if out != OutcomeDelivered {
		t.Fatalf("want delivered after throttle retry, got %v", out)
	}
	if got := tr.attempts(Recipient{ChatID: 1}); got != 2 {
		t.Fatalf("want 2 attempts, got %d", got)
	}
	if elapsed := time.Since(start); elapsed < advisory+floodPad {
		t.Fatalf("retry fired before the padded advisory wait: %v", elapsed)
	}
}

func TestCooldownStallsEverySender(t *testing.T) {
	tr := newFakeTransport()
	s := newSender(1, ChannelMessage, testProfile(), tr, testLogger())

	// A throttle observed by one goroutine must delay all of them.
	stall := 40 * time.Millisecond
	s.prolongCooldown(stall)

	start := time.Now()
	out := s.sendOne(context.Background(), &CancelToken{}, messageJob(), Recipient{ChatID: 2})

	if out != OutcomeDelivered {
		t.Fatalf("want delivered, got %v", out)
	}
	if elapsed := time.Since(start); elapsed < stall {
		t.Fatalf("send went out during the cooldown window: %v", elapsed)
	}
}

func TestProlongCooldownKeepsLaterStamp(t *testing.T) {
	tr := newFakeTransport()
	s := newSender(1, ChannelMessage, testProfile(), tr, testLogger())

	s.prolongCooldown(time.Hour)
	far := s.cooldownUntil.Load()
	s.prolongCooldown(time.Millisecond)
	if got := s.cooldownUntil.Load(); got != far {
		t.Fatal("a shorter advisory must not pull an existing cooldown in")
	}
}

func TestSendOneSemaphoreBoundsInFlight(t *testing.T) {
	p := testProfile()
	p.Concurrency = 3

	var inFlight, peak atomic.Int32
	tr := newFakeTransport()
	tr.script = func(Recipient, int) error {
		cur := inFlight.Add(1)
		for {
			max := peak.Load()
			if cur <= max || peak.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	s := newSender(1, ChannelMessage, p, tr, testLogger())

	var wg sync.WaitGroup
	for _, r := range chatRecipients(12) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sendOne(context.Background(), &CancelToken{}, messageJob(), r)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 3 {
		t.Fatalf("semaphore allowed %d concurrent sends, cap is 3", got)
	}
	if tr.callCount() != 12 {
		t.Fatalf("want 12 sends, got %d", tr.callCount())
	}
}

func TestSendOneStopAbortsRetrySleep(t *testing.T) {
	tr := newFakeTransport()
	tr.script = func(Recipient, int) error { return errBoom }
	s := newSender(1, ChannelMessage, testProfile(), tr, testLogger())

	token := &CancelToken{}
	token.RequestStop()
	start := time.Now()
	out := s.sendOne(context.Background(), token, messageJob(), Recipient{ChatID: 1})

	if out != OutcomeFailed {
		t.Fatalf("want failed, got %v", out)
	}
	// First attempt happens, the backoff sleep is skipped.
	if got := tr.attempts(Recipient{ChatID: 1}); got != 1 {
		t.Fatalf("want 1 attempt, got %d", got)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("stop must skip the backoff, took %v", elapsed)
	}
}

func TestSendOneCancelledContext(t *testing.T) {
	tr := newFakeTransport()
	s := newSender(1, ChannelMessage, testProfile(), tr, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := s.sendOne(ctx, &CancelToken{}, messageJob(), Recipient{ChatID: 1})

	if out != OutcomeFailed {
		t.Fatalf("want failed on dead context, got %v", out)
	}
	if tr.callCount() != 0 {
		t.Fatal("no send may happen on a dead context")
	}
}

func TestSendOneSkipsUnaddressable(t *testing.T) {
	tr := newFakeTransport()
	s := newSender(1, ChannelEmail, testProfile(), tr, testLogger())

	out := s.sendOne(context.Background(), &CancelToken{}, JobConfig{Channel: ChannelEmail, Text: "hi"}, Recipient{ChatID: 7})

	if out != OutcomeSkipped {
		t.Fatalf("want skipped, got %v", out)
	}
	if tr.callCount() != 0 {
		t.Fatal("skipped recipients never reach the transport")
	}
}

func TestRetryBackoffGrowsLinearly(t *testing.T) {
	if retryBackoff(1) != 500*time.Millisecond {
		t.Fatalf("attempt 1: got %v", retryBackoff(1))
	}
	if retryBackoff(2) != time.Second {
		t.Fatalf("attempt 2: got %v", retryBackoff(2))
	}
	if retryBackoff(3) != 1500*time.Millisecond {
		t.Fatalf("attempt 3: got %v", retryBackoff(3))
	}
}
