package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	"github.com/rs/zerolog"

	"bedolagabot/internal/broadcast"
)

func TestNewUnconfigured(t *testing.T) {
	if New(nil, zerolog.Nop()).Configured() {
		t.Fatal("nil config must yield an unconfigured transport")
	}
	if New(&Config{Host: "smtp.example.com"}, zerolog.Nop()).Configured() {
		t.Fatal("missing port must yield an unconfigured transport")
	}
	if !New(&Config{Host: "smtp.example.com", Port: 587, From: "n@example.com"}, zerolog.Nop()).Configured() {
		t.Fatal("complete config must yield a configured transport")
	}

	var tr *Transport
	if tr.Configured() {
		t.Fatal("nil transport must report unconfigured")
	}
}

func TestSendUnconfigured(t *testing.T) {
	tr := New(nil, zerolog.Nop())
	err := tr.Send(context.Background(), broadcast.Recipient{Email: "a@example.com"}, broadcast.Content{})
	if !errors.Is(err, broadcast.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

func TestClassifySMTPCodes(t *testing.T) {
	rejected := &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	if !broadcast.IsNoRetry(classify(rejected)) {
		t.Fatal("5xx replies are permanent rejects")
	}
	if !broadcast.IsNoRetry(classify(fmt.Errorf("send: %w", rejected))) {
		t.Fatal("classification must see through wrapping")
	}

	busy := &textproto.Error{Code: 421, Msg: "try again later"}
	if broadcast.IsNoRetry(classify(busy)) {
		t.Fatal("4xx replies are transient")
	}
	if broadcast.IsNoRetry(classify(errors.New("dial tcp: timeout"))) {
		t.Fatal("network errors are transient")
	}
	if classify(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
