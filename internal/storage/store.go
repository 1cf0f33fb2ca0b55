package storage

import (
	"errors"
	"strings"
	"time"

	"bedolagabot/internal/broadcast"
)

// ErrNotFound is returned for lookups of ids that have no row.
var ErrNotFound = errors.New("storage: not found")

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Broadcast is the durable history row for one broadcast job. The engine
// mutates counters and status; creation and listing belong to the web API.
type Broadcast struct {
	ID      int64
	Channel broadcast.Channel
	Target  string

	MessageText  string
	MediaType    string
	MediaFileID  string
	MediaCaption string
	Buttons      []string

	Subject string
	Body    string

	TotalCount  int
	SentCount   int
	FailedCount int
	Status      broadcast.Status

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// User is the slice of the subscriber table the audience resolver reads.
// Registration and subscription management live elsewhere in the app.
type User struct {
	ID                 int64
	TelegramID         int64
	Email              string
	EmailVerified      bool
	Username           string
	FirstName          string
	LastName           string
	Status             string // active | blocked
	SubscriptionStatus string // active | trial | expired | disabled | "" (none)
	TariffID           int64
	CreatedAt          time.Time
}

// DisplayName derives the template variable used for payload substitution:
// username, else first+last name, else the local part of the email.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name != "" {
		return name
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return u.Email
}
