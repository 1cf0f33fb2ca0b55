package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	SMTP      *SMTPConfig     `json:"smtp,omitempty"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	API       APIConfig       `json:"api"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Retention RetentionConfig `json:"retention"`
}

type TelegramConfig struct {
	Token       string   `json:"token"`
	PollTimeout Duration `json:"poll_timeout,omitempty"`
}

// SMTPConfig configures the email channel. The whole section is optional;
// when omitted the email channel reports itself as not configured and email
// broadcasts fail immediately with a terminal status.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

type DatabaseConfig struct {
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Console *bool      `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Listen         string   `json:"listen,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// BroadcastConfig tunes the dispatch engine per channel.
//
// All durations are Go duration strings (e.g. "500ms", "1s").
// Zero values fall back to the channel defaults below.
type BroadcastConfig struct {
	Message  ProfileConfig  `json:"message,omitempty"`
	Email    ProfileConfig  `json:"email,omitempty"`
	Progress ProgressConfig `json:"progress,omitempty"`
}

type ProfileConfig struct {
	Concurrency int      `json:"concurrency,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	BatchDelay  Duration `json:"batch_delay,omitempty"`
	RatePerSec  int      `json:"rate_per_sec,omitempty"`
	RetryMax    int      `json:"retry_max,omitempty"`
}

type ProgressConfig struct {
	EveryMessages int      `json:"every_messages,omitempty"`
	MinInterval   Duration `json:"min_interval,omitempty"`
}

type RetentionConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule,omitempty"`
	MaxAge   Duration `json:"max_age,omitempty"`
}

// Load reads, decodes, normalizes and validates the config at path.
// YAML configs are coerced to JSON so both formats go through the same
// strict decoder.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Parse(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Env overrides keep secrets out of the config file. The variables mirror
// the .env shipped with the deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" && c.SMTP != nil {
		c.SMTP.Password = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
}

func (c *Config) normalize() {
	if c.Database.Path == "" {
		c.Database.Path = "./data/bedolaga.db"
	}
	if c.Database.BusyTimeout <= 0 {
		c.Database.BusyTimeout = Duration(5 * time.Second)
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = Duration(10 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.API.Enabled && c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8080"
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@hourly"
	}
	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = Duration(90 * 24 * time.Hour)
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.SMTP != nil {
		if c.SMTP.Host == "" || c.SMTP.Port <= 0 {
			return errors.New("smtp.host and smtp.port are required when smtp is set")
		}
		if c.SMTP.From == "" {
			return errors.New("smtp.from is required when smtp is set")
		}
	}
	return nil
}

// ConsoleEnabled reports the console sink flag, defaulting to true.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}
