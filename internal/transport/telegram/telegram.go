// Package telegram adapts the Telegram Bot API (via telebot) to the
// broadcast transport contract.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"bedolagabot/internal/broadcast"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Transport sends broadcast payloads to Telegram chats. A nil or
// unconfigured Transport fails jobs synchronously at the dispatcher.
type Transport struct {
	bot *tele.Bot
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Transport{bot: b, log: log}, nil
}

func (t *Transport) Configured() bool { return t != nil && t.bot != nil }

// Bot exposes the underlying client for the command/handler side of the app.
func (t *Transport) Bot() *tele.Bot { return t.bot }

// Send delivers one rendered payload. Provider errors are wrapped with the
// broadcast taxonomy: blocked/unreachable chats and bad payloads are
// permanent, flood control becomes an advisory-wait throttle signal.
func (t *Transport) Send(ctx context.Context, r broadcast.Recipient, c broadcast.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := tele.ChatID(r.ChatID)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if markup := buildKeyboard(c.Buttons); markup != nil {
		opts.ReplyMarkup = markup
	}

	var err error
	if c.Media != nil {
		err = t.sendMedia(to, c, opts)
	} else {
		_, err = t.bot.Send(to, c.Text, opts)
	}
	return classify(err)
}

func (t *Transport) sendMedia(to tele.Recipient, c broadcast.Content, opts *tele.SendOptions) error {
	caption := c.Media.Caption
	if caption == "" {
		caption = c.Text
	}
	file := tele.File{FileID: c.Media.FileID}

	var err error
	switch c.Media.Kind {
	case "photo":
		_, err = t.bot.Send(to, &tele.Photo{File: file, Caption: caption}, opts)
	case "video":
		_, err = t.bot.Send(to, &tele.Video{File: file, Caption: caption}, opts)
	case "document":
		_, err = t.bot.Send(to, &tele.Document{File: file, Caption: caption}, opts)
	default:
		return broadcast.NoRetry(fmt.Errorf("unsupported media kind %q", c.Media.Kind))
	}
	return err
}

// classify maps telebot errors onto the broadcast taxonomy. Unrecognized
// errors stay unwrapped and are treated as transient by the sender.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return broadcast.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 403:
			// blocked, deactivated, never started the bot
			return broadcast.NoRetry(err)
		case te.Code == 400:
			// malformed payload or unknown chat
			return broadcast.NoRetry(err)
		}
	}
	return err
}

// Inline keyboard entries the admin can attach to a broadcast. Keys mirror
// the web client's selected_buttons values; unknown keys are dropped.
var broadcastButtons = map[string]tele.InlineButton{
	"home":    {Unique: "bc_home", Text: "🏠 Меню", Data: "main_menu"},
	"connect": {Unique: "bc_connect", Text: "🔌 Подключиться", Data: "connect"},
	"balance": {Unique: "bc_balance", Text: "💳 Баланс", Data: "balance"},
	"support": {Unique: "bc_support", Text: "🆘 Поддержка", Data: "support"},
}

func buildKeyboard(keys []string) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	for _, k := range keys {
		if btn, ok := broadcastButtons[k]; ok {
			rows = append(rows, []tele.InlineButton{btn})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
