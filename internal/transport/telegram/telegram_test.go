package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"bedolagabot/internal/broadcast"
)

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, zerolog.Nop()); err == nil {
		t.Fatal("empty token must be rejected")
	}
}

func TestConfiguredNilSafe(t *testing.T) {
	var tr *Transport
	if tr.Configured() {
		t.Fatal("nil transport must report unconfigured")
	}
	if (&Transport{}).Configured() {
		t.Fatal("transport without a bot must report unconfigured")
	}
}

func TestClassifyFloodError(t *testing.T) {
	err := classify(tele.FloodError{RetryAfter: 14})
	d, ok := broadcast.RetryAfterDelay(err)
	if !ok {
		t.Fatal("flood error must carry an advisory wait")
	}
	if d != 14*time.Second {
		t.Fatalf("want 14s advisory, got %v", d)
	}
}

func TestClassifyPermanentErrors(t *testing.T) {
	blocked := &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	if !broadcast.IsNoRetry(classify(blocked)) {
		t.Fatal("403 must be permanent")
	}
	badChat := &tele.Error{Code: 400, Description: "Bad Request: chat not found"}
	if !broadcast.IsNoRetry(classify(badChat)) {
		t.Fatal("400 must be permanent")
	}
}

func TestClassifyTransientErrors(t *testing.T) {
	server := &tele.Error{Code: 502, Description: "Bad Gateway"}
	if broadcast.IsNoRetry(classify(server)) {
		t.Fatal("5xx provider errors are transient")
	}
	if _, ok := broadcast.RetryAfterDelay(classify(server)); ok {
		t.Fatal("5xx provider errors carry no advisory wait")
	}
	plain := errors.New("connection reset")
	if classify(plain) != plain {
		t.Fatal("unrecognized errors must pass through unwrapped")
	}
	if classify(nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestBuildKeyboard(t *testing.T) {
	if buildKeyboard(nil) != nil {
		t.Fatal("no keys means no markup")
	}
	if buildKeyboard([]string{"bogus"}) != nil {
		t.Fatal("unknown keys are dropped, empty markup omitted")
	}

	markup := buildKeyboard([]string{"home", "bogus", "support"})
	if markup == nil {
		t.Fatal("known keys must produce markup")
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("want 2 rows, got %d", len(markup.InlineKeyboard))
	}
	if markup.InlineKeyboard[0][0].Data != "main_menu" {
		t.Fatalf("row order must follow key order, got %q", markup.InlineKeyboard[0][0].Data)
	}
}
