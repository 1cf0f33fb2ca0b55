package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
smtp:
  host: smtp.example.com
  port: 587
  username: mailer
  from: noreply@example.com
database:
  path: ./data/test.db
logging:
  level: debug
  console: false
api:
  enabled: true
  listen: "127.0.0.1:9090"
  allowed_origins: ["https://admin.example.com"]
broadcast:
  message:
    batch_size: 30
    batch_delay: "2s"
  progress:
    every_messages: 250
    min_interval: "10s"
retention:
  enabled: true
  max_age: "720h"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.NotNil(t, cfg.SMTP)
	require.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	require.Equal(t, 587, cfg.SMTP.Port)
	require.Equal(t, "./data/test.db", cfg.Database.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Logging.ConsoleEnabled())
	require.True(t, cfg.API.Enabled)
	require.Equal(t, "127.0.0.1:9090", cfg.API.Listen)
	require.Equal(t, 30, cfg.Broadcast.Message.BatchSize)
	require.Equal(t, 2*time.Second, cfg.Broadcast.Message.BatchDelay.Std())
	require.Equal(t, 250, cfg.Broadcast.Progress.EveryMessages)
	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, 720*time.Hour, cfg.Retention.MaxAge.Std())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "123:abc"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "./data/bedolaga.db", cfg.Database.Path)
	require.Equal(t, 5*time.Second, cfg.Database.BusyTimeout.Std())
	require.Equal(t, 10*time.Second, cfg.Telegram.PollTimeout.Std())
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.Logging.ConsoleEnabled())
	require.Nil(t, cfg.SMTP)
	require.False(t, cfg.API.Enabled)
	require.Equal(t, "@hourly", cfg.Retention.Schedule)
	require.Equal(t, 90*24*time.Hour, cfg.Retention.MaxAge.Std())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env:token")
	t.Setenv("SMTP_PASSWORD", "env-secret")
	t.Setenv("DATABASE_PATH", "/var/lib/bot/db.sqlite")

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "file:token"
smtp:
  host: smtp.example.com
  port: 587
  from: noreply@example.com
  password: "file-secret"
database:
  path: ./data/test.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "env:token", cfg.Telegram.Token)
	require.Equal(t, "env-secret", cfg.SMTP.Password)
	require.Equal(t, "/var/lib/bot/db.sqlite", cfg.Database.Path)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokken_typo: "oops"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tokken_typo")
}

func TestLoadMissingToken(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: ./data/test.db
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "telegram.token")
}

func TestLoadIncompleteSMTP(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
smtp:
  host: smtp.example.com
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "smtp")
}

func TestDurationParsing(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
broadcast:
  email:
    batch_delay: "750ms"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, cfg.Broadcast.Email.BatchDelay.Std())
}

func TestDurationRejectsNegative(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
broadcast:
  email:
    batch_delay: "-1s"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse("config.json", []byte(`{"telegram":{"token":"a"}}{"extra":1}`))
	require.Error(t, err)
}
