package broadcast

import (
	"context"
	"strings"
	"time"
)

// Channel selects the delivery mechanism for a broadcast. Each channel has
// its own transport and its own rate ceiling.
type Channel string

const (
	ChannelMessage Channel = "message"
	ChannelEmail   Channel = "email"
)

// Status is the persisted lifecycle state of a broadcast job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the job never transitions further from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Recipient is one addressable identity from the frozen audience snapshot.
// Recipients are plain scalars, never live handles into a DB session.
type Recipient struct {
	ChatID int64  // message channel
	Email  string // email channel
	Name   string // template variable {{user_name}}
}

// Addressable reports whether the recipient can be reached on ch.
// Unaddressable recipients are classified Skipped by the sender.
func (r Recipient) Addressable(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(r.Email) != ""
	default:
		return r.ChatID != 0
	}
}

// MediaRef is an optional media attachment for the message channel.
type MediaRef struct {
	Kind    string // photo | video | document
	FileID  string
	Caption string
}

// JobConfig is the full payload and targeting for one broadcast job.
// Message-channel jobs use Text/Media/Buttons; email-channel jobs use
// Subject/Body templates rendered per recipient at send time.
type JobConfig struct {
	Channel Channel
	Target  string

	Text    string
	Media   *MediaRef
	Buttons []string

	Subject string
	Body    string
}

// Content is the per-recipient rendered payload handed to a transport.
type Content struct {
	Text    string
	Media   *MediaRef
	Buttons []string

	Subject string
	Body    string
}

// Render substitutes the recognized template placeholders for one recipient.
// Only the email fields are templated; message text is sent verbatim.
func (c JobConfig) Render(r Recipient) Content {
	out := Content{
		Text:    c.Text,
		Media:   c.Media,
		Buttons: c.Buttons,
	}
	if c.Channel == ChannelEmail {
		out.Subject = renderTemplate(c.Subject, r)
		out.Body = renderTemplate(c.Body, r)
	}
	return out
}

func renderTemplate(tpl string, r Recipient) string {
	if tpl == "" {
		return tpl
	}
	s := strings.ReplaceAll(tpl, "{{user_name}}", r.Name)
	s = strings.ReplaceAll(s, "{{email}}", r.Email)
	return s
}

// Outcome classifies one recipient's send result.
type Outcome int

const (
	// OutcomeDelivered: the transport accepted the send.
	OutcomeDelivered Outcome = iota
	// OutcomeFailed: permanent reject, or retries exhausted.
	OutcomeFailed
	// OutcomeSkipped: the recipient had no addressable identity for the
	// channel. Counts toward neither sent nor failed.
	OutcomeSkipped
)

// Transport delivers one rendered payload to one recipient. Implementations
// wrap provider errors with NoRetry / RetryAfter so the sender can classify
// them; unwrapped errors are treated as transient.
type Transport interface {
	Send(ctx context.Context, r Recipient, c Content) error
	// Configured reports whether the transport can send at all. Jobs on an
	// unconfigured transport are failed synchronously and never registered.
	Configured() bool
}

// JobStore is the durable record this engine mutates. Counter writes are
// idempotent snapshots (overwrite, not increment), so retried writes cannot
// double-count.
type JobStore interface {
	MarkStarted(ctx context.Context, id int64) error
	SetTotal(ctx context.Context, id int64, total int) error
	UpdateProgress(ctx context.Context, id int64, sent, failed int) error
	Finish(ctx context.Context, id int64, status Status, sent, failed int) error
}

// Resolver computes the audience snapshot for a target-filter key. The
// returned list is frozen: membership is never re-evaluated mid-run.
type Resolver interface {
	Resolve(ctx context.Context, ch Channel, target string) ([]Recipient, error)
}

// Profile carries the per-channel tuning knobs: fan-out bound, batch size,
// pacing, and the retry cap. One runner serves both channels; only the
// profile differs.
type Profile struct {
	Concurrency int
	BatchSize   int
	BatchDelay  time.Duration
	RatePerSec  int
	RetryMax    int
}

// Telegram allows ~30 msg/sec per bot; 25/sec with a one second inter-batch
// pause keeps a safety margin. The SMTP gateway is capped at 8/sec.
func DefaultProfile(ch Channel) Profile {
	if ch == ChannelEmail {
		return Profile{
			Concurrency: 8,
			BatchSize:   50,
			BatchDelay:  500 * time.Millisecond,
			RatePerSec:  8,
			RetryMax:    3,
		}
	}
	return Profile{
		Concurrency: 20,
		BatchSize:   25,
		BatchDelay:  time.Second,
		RatePerSec:  25,
		RetryMax:    3,
	}
}

func (p Profile) withDefaults(ch Channel) Profile {
	def := DefaultProfile(ch)
	if p.Concurrency <= 0 {
		p.Concurrency = def.Concurrency
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.BatchDelay <= 0 {
		p.BatchDelay = def.BatchDelay
	}
	if p.RatePerSec <= 0 {
		p.RatePerSec = def.RatePerSec
	}
	if p.RetryMax <= 0 {
		p.RetryMax = def.RetryMax
	}
	return p
}

// Progress controls the checkpoint cadence: a write fires once either
// threshold is crossed since the previous write.
type Progress struct {
	EveryMessages int
	MinInterval   time.Duration
}

func (p Progress) withDefaults() Progress {
	if p.EveryMessages <= 0 {
		p.EveryMessages = 500
	}
	if p.MinInterval <= 0 {
		p.MinInterval = 5 * time.Second
	}
	return p
}

// Config tunes the whole dispatch service.
type Config struct {
	Message  Profile
	Email    Profile
	Progress Progress
}
