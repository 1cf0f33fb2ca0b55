package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// runHandle is the registry entry for one execution attempt. It exists for
// exactly the duration of the run: the entry is removed by the completion
// callback no matter how the run ends, which is what guarantees at most one
// concurrent execution per job id.
type runHandle struct {
	token *CancelToken
	done  chan struct{}
}

// Service is the process-wide broadcast dispatcher: it maps job ids to
// running executions, starts runs, routes stop requests, and answers
// liveness queries from the web layer.
type Service struct {
	mu sync.Mutex

	cfg      Config
	store    JobStore
	resolver Resolver
	message  Transport
	email    Transport
	log      zerolog.Logger

	runs      map[int64]*runHandle
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, store JobStore, resolver Resolver, message, email Transport, log zerolog.Logger) *Service {
	cfg.Message = cfg.Message.withDefaults(ChannelMessage)
	cfg.Email = cfg.Email.withDefaults(ChannelEmail)
	cfg.Progress = cfg.Progress.withDefaults()
	return &Service{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		message:  message,
		email:    email,
		log:      log,
		runs:     map[int64]*runHandle{},
	}
}

// Apply updates the tuning knobs. Running jobs keep the profile they
// started with; new jobs pick up the new values.
func (s *Service) Apply(cfg Config) {
	cfg.Message = cfg.Message.withDefaults(ChannelMessage)
	cfg.Email = cfg.Email.withDefaults(ChannelEmail)
	cfg.Progress = cfg.Progress.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start is idempotent. ctx is the parent of every run: cancelling it (via
// Stop or process shutdown) winds running jobs down to a cancelled status.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info().Msg("broadcast dispatcher started")
}

// Stop requests cancellation on every running job and waits for them to
// drain, bounded by ctx. Terminal statuses are still written by the runs
// themselves.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.runCancel == nil {
		s.mu.Unlock()
		return
	}
	for _, h := range s.runs {
		h.token.RequestStop()
	}
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	start := time.Now()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	cancel()
	s.log.Info().Dur("took", time.Since(start)).Msg("broadcast dispatcher stopped")
}

// StartBroadcast launches the run for a queued job. Fire-and-forget: the
// caller observes progress through the job store. Starting an id that is
// already running is a logged no-op.
func (s *Service) StartBroadcast(id int64, cfg JobConfig) {
	tr := s.transportFor(cfg.Channel)
	if tr == nil || !tr.Configured() {
		s.log.Error().
			Int64("broadcast_id", id).
			Str("channel", string(cfg.Channel)).
			Msg("cannot start broadcast: transport not configured")
		s.failImmediately(id)
		return
	}

	s.mu.Lock()
	if _, ok := s.runs[id]; ok {
		s.mu.Unlock()
		s.log.Warn().Int64("broadcast_id", id).Msg("broadcast already running")
		return
	}
	if s.runCtx == nil {
		s.mu.Unlock()
		s.log.Error().Int64("broadcast_id", id).Msg("cannot start broadcast: dispatcher not started")
		s.failImmediately(id)
		return
	}
	ctx := s.runCtx
	profile := s.profileFor(cfg.Channel)
	progress := s.cfg.Progress
	h := &runHandle{token: &CancelToken{}, done: make(chan struct{})}
	s.runs[id] = h
	s.wg.Add(1)
	s.mu.Unlock()

	r := &runner{
		id:       id,
		cfg:      cfg,
		profile:  profile,
		sender:   newSender(id, cfg.Channel, profile, tr, s.log),
		resolver: s.resolver,
		reporter: newProgressReporter(s.store, id, progress, s.log),
		token:    h.token,
		log:      s.log,
	}

	go func() {
		defer func() {
			// Unconditional cleanup, not tied to cancellation: the entry
			// must vanish the instant the run ends.
			s.mu.Lock()
			delete(s.runs, id)
			s.mu.Unlock()
			close(h.done)
			s.wg.Done()
		}()
		r.run(ctx)
	}()
}

// RequestStop signals the running execution for id, if any. Returns true
// iff a run was found and signalled.
func (s *Service) RequestStop(id int64) bool {
	s.mu.Lock()
	h, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.token.RequestStop()
	s.log.Info().Int64("broadcast_id", id).Msg("broadcast stop requested")
	return true
}

// IsRunning reports whether an execution for id is registered right now.
func (s *Service) IsRunning(id int64) bool {
	s.mu.Lock()
	_, ok := s.runs[id]
	s.mu.Unlock()
	return ok
}

// StopRequested reports whether a stop was requested for a still-running
// id. The web layer uses it to derive the "cancelling" label.
func (s *Service) StopRequested(id int64) bool {
	s.mu.Lock()
	h, ok := s.runs[id]
	s.mu.Unlock()
	return ok && h.token.StopRequested()
}

func (s *Service) transportFor(ch Channel) Transport {
	if ch == ChannelEmail {
		return s.email
	}
	return s.message
}

func (s *Service) profileFor(ch Channel) Profile {
	if ch == ChannelEmail {
		return s.cfg.Email
	}
	return s.cfg.Message
}

// failImmediately writes a terminal failed row for a job that never entered
// the registry, so pollers see a final state instead of a stuck queued one.
func (s *Service) failImmediately(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Finish(ctx, id, StatusFailed, 0, 0); err != nil {
		s.log.Error().Int64("broadcast_id", id).Err(err).Msg("cannot mark broadcast failed")
	}
}
