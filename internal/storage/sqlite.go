package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"bedolagabot/internal/broadcast"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed persistence layer: broadcast history rows for
// the engine and the web API, plus the audience snapshot queries.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- broadcast history ----

func (s *Store) CreateBroadcast(ctx context.Context, b *Broadcast) error {
	if b.Status == "" {
		b.Status = broadcast.StatusQueued
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	buttons, err := json.Marshal(orEmpty(b.Buttons))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(channel, target, message_text, media_type, media_file_id, media_caption,
		                        buttons, subject, body, total_count, sent_count, failed_count, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(b.Channel), b.Target, b.MessageText,
		nullStr(b.MediaType), nullStr(b.MediaFileID), nullStr(b.MediaCaption),
		string(buttons), b.Subject, b.Body,
		b.TotalCount, b.SentCount, b.FailedCount, string(b.Status),
		b.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

const broadcastCols = `id, channel, target, message_text, media_type, media_file_id, media_caption,
	buttons, subject, body, total_count, sent_count, failed_count, status, created_at, completed_at`

func (s *Store) GetBroadcast(ctx context.Context, id int64) (*Broadcast, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+broadcastCols+` FROM broadcasts WHERE id = ?`, id)
	b, err := scanBroadcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Store) ListBroadcasts(ctx context.Context, limit, offset int) ([]Broadcast, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM broadcasts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+broadcastCols+` FROM broadcasts ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(r rowScanner) (*Broadcast, error) {
	var (
		b                       Broadcast
		channel, status         string
		mediaType, mediaFileID  sql.NullString
		mediaCaption, completed sql.NullString
		buttons, created        string
	)
	err := r.Scan(&b.ID, &channel, &b.Target, &b.MessageText, &mediaType, &mediaFileID, &mediaCaption,
		&buttons, &b.Subject, &b.Body, &b.TotalCount, &b.SentCount, &b.FailedCount, &status, &created, &completed)
	if err != nil {
		return nil, err
	}
	b.Channel = broadcast.Channel(channel)
	b.Status = broadcast.Status(status)
	b.MediaType = mediaType.String
	b.MediaFileID = mediaFileID.String
	b.MediaCaption = mediaCaption.String
	if err := json.Unmarshal([]byte(buttons), &b.Buttons); err != nil {
		return nil, fmt.Errorf("broadcast %d: bad buttons payload: %w", b.ID, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("broadcast %d: bad created_at: %w", b.ID, err)
	}
	if completed.Valid {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, fmt.Errorf("broadcast %d: bad completed_at: %w", b.ID, err)
		}
		b.CompletedAt = &t
	}
	return &b, nil
}

// ---- engine mutations (broadcast.JobStore) ----

func (s *Store) MarkStarted(ctx context.Context, id int64) error {
	return s.exec(ctx, id,
		`UPDATE broadcasts SET status = ?, sent_count = 0, failed_count = 0 WHERE id = ?`,
		string(broadcast.StatusInProgress), id)
}

func (s *Store) SetTotal(ctx context.Context, id int64, total int) error {
	return s.exec(ctx, id, `UPDATE broadcasts SET total_count = ? WHERE id = ?`, total, id)
}

// UpdateProgress overwrites the counter snapshot. Overwrite semantics make
// a retried write after a transient error harmless.
func (s *Store) UpdateProgress(ctx context.Context, id int64, sent, failed int) error {
	return s.exec(ctx, id,
		`UPDATE broadcasts SET sent_count = ?, failed_count = ?, status = ? WHERE id = ?`,
		sent, failed, string(broadcast.StatusInProgress), id)
}

// Finish writes the terminal status. completed_at is set at most once: a
// retried or duplicate terminal write keeps the first timestamp.
func (s *Store) Finish(ctx context.Context, id int64, status broadcast.Status, sent, failed int) error {
	return s.exec(ctx, id,
		`UPDATE broadcasts
		 SET sent_count = ?, failed_count = ?, status = ?,
		     completed_at = COALESCE(completed_at, ?)
		 WHERE id = ?`,
		sent, failed, string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
}

func (s *Store) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("broadcast %d: %w", id, ErrNotFound)
	}
	return nil
}

// Prune deletes terminal broadcast rows whose completed_at predates cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM broadcasts
		 WHERE completed_at IS NOT NULL AND completed_at < ?
		   AND status IN ('completed','partial','failed','cancelled')`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- audience resolution (broadcast.Resolver) ----

// Resolve snapshots the audience for a target key as plain scalar
// identities. The list is materialized fully before return; the engine
// never holds live rows.
func (s *Store) Resolve(ctx context.Context, ch broadcast.Channel, target string) ([]broadcast.Recipient, error) {
	where, args, err := audienceFilter(ch, target)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_id, email, username, first_name, last_name FROM users WHERE `+where+` ORDER BY id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broadcast.Recipient
	for rows.Next() {
		var (
			tgID  sql.NullInt64
			email sql.NullString
			u     User
		)
		if err := rows.Scan(&tgID, &email, &u.Username, &u.FirstName, &u.LastName); err != nil {
			return nil, err
		}
		u.TelegramID = tgID.Int64
		u.Email = email.String
		out = append(out, broadcast.Recipient{
			ChatID: u.TelegramID,
			Email:  u.Email,
			Name:   u.DisplayName(),
		})
	}
	return out, rows.Err()
}

// CountAudience sizes the audience for the preview endpoint without
// materializing identities.
func (s *Store) CountAudience(ctx context.Context, ch broadcast.Channel, target string) (int, error) {
	where, args, err := audienceFilter(ch, target)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&n)
	return n, err
}

func audienceFilter(ch broadcast.Channel, target string) (string, []any, error) {
	if ch == broadcast.ChannelEmail {
		base := `status = 'active' AND email IS NOT NULL AND email != '' AND email_verified = 1`
		switch target {
		case "all_email":
			return base, nil, nil
		case "active_email":
			return base + ` AND subscription_status = 'active'`, nil, nil
		case "expired_email":
			return base + ` AND subscription_status IN ('expired','disabled')`, nil, nil
		}
		return "", nil, fmt.Errorf("%w: %q", broadcast.ErrUnknownTarget, target)
	}

	base := `status = 'active' AND telegram_id IS NOT NULL`
	switch target {
	case "all":
		return base, nil, nil
	case "active":
		return base + ` AND subscription_status = 'active'`, nil, nil
	case "trial":
		return base + ` AND subscription_status = 'trial'`, nil, nil
	case "expired":
		return base + ` AND subscription_status IN ('expired','disabled')`, nil, nil
	case "no_subscription":
		return base + ` AND subscription_status = ''`, nil, nil
	}
	if id, ok := strings.CutPrefix(target, "tariff_"); ok {
		tid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %q", broadcast.ErrUnknownTarget, target)
		}
		return base + ` AND subscription_status = 'active' AND tariff_id = ?`, []any{tid}, nil
	}
	return "", nil, fmt.Errorf("%w: %q", broadcast.ErrUnknownTarget, target)
}

// ---- users ----

// UpsertUser registers or refreshes a subscriber row, keyed by telegram id
// when present. Used by the bot's registration flow and by tests.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = "active"
	}
	if u.TelegramID != 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users(telegram_id, email, email_verified, username, first_name, last_name,
			                   status, subscription_status, tariff_id, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(telegram_id) WHERE telegram_id IS NOT NULL DO UPDATE SET
			   email = excluded.email,
			   email_verified = excluded.email_verified,
			   username = excluded.username,
			   first_name = excluded.first_name,
			   last_name = excluded.last_name,
			   status = excluded.status,
			   subscription_status = excluded.subscription_status,
			   tariff_id = excluded.tariff_id`,
			u.TelegramID, nullStr(u.Email), boolInt(u.EmailVerified), u.Username, u.FirstName, u.LastName,
			u.Status, u.SubscriptionStatus, u.TariffID, u.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		if u.ID == 0 {
			u.ID, _ = res.LastInsertId()
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, email, email_verified, username, first_name, last_name,
		                   status, subscription_status, tariff_id, created_at)
		 VALUES(NULL,?,?,?,?,?,?,?,?,?)`,
		nullStr(u.Email), boolInt(u.EmailVerified), u.Username, u.FirstName, u.LastName,
		u.Status, u.SubscriptionStatus, u.TariffID, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
