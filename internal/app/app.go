// Package app wires configuration, storage, transports and services into
// one process.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"bedolagabot/internal/broadcast"
	"bedolagabot/internal/config"
	"bedolagabot/internal/retention"
	"bedolagabot/internal/storage"
	"bedolagabot/internal/transport/email"
	"bedolagabot/internal/transport/telegram"
	"bedolagabot/internal/webapi"
	"bedolagabot/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	log      zerolog.Logger
	logClose io.Closer

	store      *storage.Store
	dispatcher *broadcast.Service
	api        *webapi.Server
	cleaner    *retention.Service

	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	// Optional .env next to the binary; real env still wins.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logClose, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout.Std(),
	}, logx.Component(log, "storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tg, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout.Std(),
	}, logx.Component(log, "telegram"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init telegram: %w", err)
	}

	var mailCfg *email.Config
	if cfg.SMTP != nil {
		mailCfg = &email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
	}
	mail := email.New(mailCfg, logx.Component(log, "email"))

	dispatcher := broadcast.New(
		broadcastConfig(cfg),
		store,
		store,
		tg,
		mail,
		logx.Component(log, "broadcast"),
	)

	a := &App{
		cfgPath:    cfgPath,
		cfg:        cfg,
		log:        log,
		logClose:   logClose,
		store:      store,
		dispatcher: dispatcher,
		cleaner: retention.New(retention.Config{
			Enabled:  cfg.Retention.Enabled,
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge.Std(),
		}, store, logx.Component(log, "retention")),
	}

	if cfg.API.Enabled {
		a.api = webapi.New(webapi.Config{
			Listen:         cfg.API.Listen,
			AllowedOrigins: cfg.API.AllowedOrigins,
		}, store, dispatcher, logx.Component(log, "webapi"))
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	if err := a.cleaner.Start(); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	if a.api != nil {
		a.api.Start()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	go func() {
		err := config.Watch(watchCtx, a.cfgPath, logx.Component(a.log, "config"), a.applyConfig)
		if err != nil {
			a.log.Warn().Err(err).Msg("config watch unavailable")
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info().Msg("bedolaga broadcast service started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.api != nil {
		a.api.Stop(ctx)
	}
	a.dispatcher.Stop(ctx)
	a.cleaner.Stop(ctx)
	err := a.store.Close()
	a.log.Info().Msg("bedolaga broadcast service stopped")
	if a.logClose != nil {
		_ = a.logClose.Close()
	}
	return err
}

// applyConfig handles a validated config reload. Only the safely hot-
// swappable pieces are applied: log level and dispatch tuning. Transports,
// storage and listen addresses need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if err := logx.SetLevel(cfg.Logging.Level); err != nil {
		a.log.Warn().Err(err).Msg("bad log level in reloaded config")
	}
	a.dispatcher.Apply(broadcastConfig(cfg))
	a.cfg = cfg
}

func broadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Message:  profile(cfg.Broadcast.Message),
		Email:    profile(cfg.Broadcast.Email),
		Progress: broadcast.Progress{
			EveryMessages: cfg.Broadcast.Progress.EveryMessages,
			MinInterval:   cfg.Broadcast.Progress.MinInterval.Std(),
		},
	}
}

func profile(p config.ProfileConfig) broadcast.Profile {
	return broadcast.Profile{
		Concurrency: p.Concurrency,
		BatchSize:   p.BatchSize,
		BatchDelay:  p.BatchDelay.Std(),
		RatePerSec:  p.RatePerSec,
		RetryMax:    p.RetryMax,
	}
}
