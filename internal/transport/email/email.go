// Package email adapts an SMTP gateway (via gomail) to the broadcast
// transport contract.
package email

import (
	"context"
	"errors"
	"net/textproto"

	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"

	"bedolagabot/internal/broadcast"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Transport sends HTML campaign mail. Each send dials the gateway; the
// engine's rate limit (8/sec) keeps connection churn acceptable for the
// volumes this bot sees.
type Transport struct {
	dialer *gomail.Dialer
	from   string
	log    zerolog.Logger
}

// New returns an unconfigured transport when cfg is nil; email broadcasts
// then fail synchronously instead of being attempted.
func New(cfg *Config, log zerolog.Logger) *Transport {
	if cfg == nil || cfg.Host == "" || cfg.Port <= 0 {
		return &Transport{log: log}
	}
	return &Transport{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		log:    log,
	}
}

func (t *Transport) Configured() bool { return t != nil && t.dialer != nil }

func (t *Transport) Send(ctx context.Context, r broadcast.Recipient, c broadcast.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.Configured() {
		return broadcast.ErrTransportNotConfigured
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", r.Email)
	m.SetHeader("Subject", c.Subject)
	m.SetBody("text/html", c.Body)

	return classify(t.dialer.DialAndSend(m))
}

// classify maps SMTP reply codes onto the broadcast taxonomy: 5xx replies
// are permanent rejects for the recipient, everything else is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return broadcast.NoRetry(err)
	}
	return err
}
