package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is built once by Load and passed
// explicitly to every component.
type Config struct {
	App           AppConfig
	Forum         ForumConfig
	Availability  AvailabilityConfig
	Storage       StorageConfig
	Notifications NotificationsConfig
}

// AppConfig holds the pipeline-wide settings.
type AppConfig struct {
	StartYear           int
	EndYear             int
	PollIntervalSeconds int
	MaxPagesPerTopic    int
	UserAgent           string
	LogLevel            string
	LogFile             string
}

// PollInterval returns the sleep between two cycles.
func (a AppConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// ForumConfig describes where topics are discovered.
type ForumConfig struct {
	BaseURL        string
	TopicURLs      []string
	BoardIDs       []int
	BoardStartPage int
	BoardEndPage   int
	FeedURLs       []string
	Selectors      SelectorsConfig
}

// SelectorsConfig holds the CSS selectors used to locate posts on a topic page.
type SelectorsConfig struct {
	Post string `yaml:"post"`
	Date string `yaml:"date"`
	Body string `yaml:"body"`
}

// AvailabilityConfig configures the registration lookup service.
type AvailabilityConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StorageConfig configures SQLite storage.
type StorageConfig struct {
	SQLitePath string
}

// NotificationsConfig configures alert destinations.
type NotificationsConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// EmailConfig for SMTP alerts.
type EmailConfig struct {
	Enabled      bool     `yaml:"enabled"`
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	FromAddress  string   `yaml:"from_address"`
	ToAddresses  []string `yaml:"to_addresses"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// Defaults for optional settings.
const (
	DefaultAvailabilityURL = "https://rdap.org"
	DefaultPostSelector    = "td.td_headerandpost"
	DefaultDateSelector    = "div.smalltext"
	DefaultBodySelector    = "div.post"
	DefaultLogLevel        = "info"
)

// Error reports a missing or invalid setting.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func missing(key string) error {
	return &Error{Key: key, Reason: "required key is missing"}
}

func invalid(key, format string, args ...any) error {
	return &Error{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// The raw* types mirror the YAML file. Required scalars are pointers so a
// missing key can be told apart from a zero value.
type rawConfig struct {
	App           *rawApp              `yaml:"app"`
	Forum         *rawForum            `yaml:"forum"`
	Availability  AvailabilityConfig   `yaml:"availability"`
	Storage       *rawStorage          `yaml:"storage"`
	Notifications *NotificationsConfig `yaml:"notifications"`
}

type rawApp struct {
	StartYear           *int    `yaml:"start_year"`
	EndYear             *int    `yaml:"end_year"`
	PollIntervalSeconds *int    `yaml:"poll_interval_seconds"`
	MaxPagesPerTopic    *int    `yaml:"max_pages_per_topic"`
	UserAgent           *string `yaml:"user_agent"`
	LogLevel            string  `yaml:"log_level"`
	LogFile             string  `yaml:"log_file"`
}

type rawForum struct {
	BaseURL        *string         `yaml:"base_url"`
	TopicURLs      []string        `yaml:"topic_urls"`
	BoardIDs       []int           `yaml:"board_ids"`
	BoardStartPage int             `yaml:"board_start_page"`
	BoardEndPage   int             `yaml:"board_end_page"`
	FeedURLs       []string        `yaml:"feed_urls"`
	Selectors      SelectorsConfig `yaml:"selectors"`
}

type rawStorage struct {
	SQLitePath *string `yaml:"sqlite_path"`
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result. Any missing required key fails immediately.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := build(&raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(raw *rawConfig) (*Config, error) {
	if raw.App == nil {
		return nil, missing("app")
	}
	if raw.Forum == nil {
		return nil, missing("forum")
	}
	if raw.Storage == nil {
		return nil, missing("storage")
	}
	if raw.Notifications == nil {
		return nil, missing("notifications")
	}

	app := raw.App
	switch {
	case app.StartYear == nil:
		return nil, missing("app.start_year")
	case app.EndYear == nil:
		return nil, missing("app.end_year")
	case app.PollIntervalSeconds == nil:
		return nil, missing("app.poll_interval_seconds")
	case app.MaxPagesPerTopic == nil:
		return nil, missing("app.max_pages_per_topic")
	case app.UserAgent == nil:
		return nil, missing("app.user_agent")
	case raw.Forum.BaseURL == nil:
		return nil, missing("forum.base_url")
	case raw.Storage.SQLitePath == nil:
		return nil, missing("storage.sqlite_path")
	}

	cfg := &Config{
		App: AppConfig{
			StartYear:           *app.StartYear,
			EndYear:             *app.EndYear,
			PollIntervalSeconds: *app.PollIntervalSeconds,
			MaxPagesPerTopic:    *app.MaxPagesPerTopic,
			UserAgent:           *app.UserAgent,
			LogLevel:            app.LogLevel,
			LogFile:             app.LogFile,
		},
		Forum: ForumConfig{
			BaseURL:        *raw.Forum.BaseURL,
			TopicURLs:      nonNil(raw.Forum.TopicURLs),
			BoardIDs:       nonNil(raw.Forum.BoardIDs),
			BoardStartPage: raw.Forum.BoardStartPage,
			BoardEndPage:   raw.Forum.BoardEndPage,
			FeedURLs:       nonNil(raw.Forum.FeedURLs),
			Selectors:      raw.Forum.Selectors,
		},
		Availability:  raw.Availability,
		Storage:       StorageConfig{SQLitePath: *raw.Storage.SQLitePath},
		Notifications: *raw.Notifications,
	}

	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = DefaultLogLevel
	}
	if cfg.Availability.BaseURL == "" {
		cfg.Availability.BaseURL = DefaultAvailabilityURL
	}
	if cfg.Forum.Selectors.Post == "" {
		cfg.Forum.Selectors.Post = DefaultPostSelector
	}
	if cfg.Forum.Selectors.Date == "" {
		cfg.Forum.Selectors.Date = DefaultDateSelector
	}
	if cfg.Forum.Selectors.Body == "" {
		cfg.Forum.Selectors.Body = DefaultBodySelector
	}
	cfg.Notifications.Email.ToAddresses = nonNil(cfg.Notifications.Email.ToAddresses)

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.App.StartYear > c.App.EndYear {
		return invalid("app.start_year", "must not be after app.end_year (%d > %d)", c.App.StartYear, c.App.EndYear)
	}
	if c.App.PollIntervalSeconds < 0 {
		return invalid("app.poll_interval_seconds", "must not be negative")
	}
	if c.App.MaxPagesPerTopic < 1 {
		return invalid("app.max_pages_per_topic", "must be at least 1")
	}
	if c.App.UserAgent == "" {
		return invalid("app.user_agent", "must not be empty")
	}
	if c.Forum.BaseURL == "" {
		return invalid("forum.base_url", "must not be empty")
	}
	if c.Forum.BoardEndPage < c.Forum.BoardStartPage {
		return invalid("forum.board_end_page", "must not be before forum.board_start_page")
	}
	if c.Storage.SQLitePath == "" {
		return invalid("storage.sqlite_path", "must not be empty")
	}

	email := c.Notifications.Email
	if email.Enabled {
		switch {
		case email.SMTPHost == "":
			return invalid("notifications.email.smtp_host", "required when email is enabled")
		case email.SMTPPort <= 0:
			return invalid("notifications.email.smtp_port", "required when email is enabled")
		case email.FromAddress == "":
			return invalid("notifications.email.from_address", "required when email is enabled")
		case len(email.ToAddresses) == 0:
			return invalid("notifications.email.to_addresses", "required when email is enabled")
		}
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return invalid("notifications.webhook.url", "required when webhook is enabled")
	}
	if c.Notifications.Slack.Enabled && c.Notifications.Slack.WebhookURL == "" {
		return invalid("notifications.slack.webhook_url", "required when slack is enabled")
	}
	if c.Notifications.Discord.Enabled && c.Notifications.Discord.WebhookURL == "" {
		return invalid("notifications.discord.webhook_url", "required when discord is enabled")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOMAINHUNTER_DB_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.SMTPPassword = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Slack.WebhookURL = v
		cfg.Notifications.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
		cfg.Notifications.Discord.Enabled = true
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
