// Package retention prunes finished broadcast history on a schedule so the
// table (and the admin list view) stays bounded.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"bedolagabot/internal/storage"
)

type Config struct {
	Enabled  bool
	Schedule string // cron spec, e.g. "@hourly"
	MaxAge   time.Duration
}

type Service struct {
	cfg   Config
	store *storage.Store
	log   zerolog.Logger
	cron  *cron.Cron
}

func New(cfg Config, store *storage.Store, log zerolog.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 90 * 24 * time.Hour
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.runOnce); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", s.cfg.Schedule).Dur("max_age", s.cfg.MaxAge).Msg("retention pruning scheduled")
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("broadcast prune failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("old broadcasts pruned")
	}
}
