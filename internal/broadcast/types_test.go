package broadcast

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusPartial, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestRecipientAddressable(t *testing.T) {
	r := Recipient{ChatID: 42, Email: "u@example.com"}
	if !r.Addressable(ChannelMessage) || !r.Addressable(ChannelEmail) {
		t.Fatal("recipient with both identities is addressable on both channels")
	}
	if (Recipient{Email: "u@example.com"}).Addressable(ChannelMessage) {
		t.Fatal("no chat id means not addressable for messages")
	}
	if (Recipient{ChatID: 42}).Addressable(ChannelEmail) {
		t.Fatal("no email means not addressable for email")
	}
	if (Recipient{ChatID: 1, Email: "   "}).Addressable(ChannelEmail) {
		t.Fatal("blank email is not an address")
	}
}

func TestRenderEmailTemplates(t *testing.T) {
	cfg := JobConfig{
		Channel: ChannelEmail,
		Subject: "Hi {{user_name}}",
		Body:    "Sent to {{email}} for {{user_name}}",
	}
	c := cfg.Render(Recipient{Email: "alice@example.com", Name: "Alice"})
	if c.Subject != "Hi Alice" {
		t.Fatalf("subject: got %q", c.Subject)
	}
	if c.Body != "Sent to alice@example.com for Alice" {
		t.Fatalf("body: got %q", c.Body)
	}
}

func TestRenderMessageTextVerbatim(t *testing.T) {
	cfg := JobConfig{Channel: ChannelMessage, Text: "Hello {{user_name}}", Buttons: []string{"home"}}
	c := cfg.Render(Recipient{ChatID: 1, Name: "Alice"})
	if c.Text != "Hello {{user_name}}" {
		t.Fatalf("message text must not be templated, got %q", c.Text)
	}
	if len(c.Buttons) != 1 || c.Buttons[0] != "home" {
		t.Fatalf("buttons must pass through, got %v", c.Buttons)
	}
}

func TestDefaultProfiles(t *testing.T) {
	msg := DefaultProfile(ChannelMessage)
	if msg.BatchSize != 25 || msg.BatchDelay != time.Second || msg.RetryMax != 3 {
		t.Fatalf("message profile: %+v", msg)
	}
	mail := DefaultProfile(ChannelEmail)
	if mail.Concurrency != 8 || mail.BatchSize != 50 {
		t.Fatalf("email profile: %+v", mail)
	}
}

func TestProfileWithDefaultsFillsZeroFields(t *testing.T) {
	p := Profile{BatchSize: 10}.withDefaults(ChannelMessage)
	if p.BatchSize != 10 {
		t.Fatal("explicit values must survive")
	}
	if p.Concurrency != 20 || p.RatePerSec != 25 || p.RetryMax != 3 {
		t.Fatalf("zero fields must take defaults: %+v", p)
	}
}
