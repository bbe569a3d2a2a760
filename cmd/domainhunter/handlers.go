package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"
	slogmulti "github.com/samber/slog-multi"

	"github.com/elonfeng/domainhunter/internal/config"
	"github.com/elonfeng/domainhunter/internal/scheduler"
	"github.com/elonfeng/domainhunter/internal/store"
	"github.com/elonfeng/domainhunter/migrations"
	"github.com/elonfeng/domainhunter/pkg/alert"
	"github.com/elonfeng/domainhunter/pkg/availability"
	"github.com/elonfeng/domainhunter/pkg/source"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text to stderr and, when a log file is configured, JSON
// to that file as well. The returned func closes the file.
func newLogger(app config.AppConfig) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(app.LogLevel)}
	textHandler := slog.NewTextHandler(os.Stderr, opts)

	if app.LogFile == "" {
		return slog.New(textHandler), func() {}, nil
	}

	f, err := os.OpenFile(app.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", app.LogFile, err)
	}
	jsonHandler := slog.NewJSONHandler(f, opts)
	return slog.New(slogmulti.Fanout(textHandler, jsonHandler)), func() { _ = f.Close() }, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Storage.SQLitePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func buildForumOptions(cfg *config.Config) source.ForumOptions {
	return source.ForumOptions{
		BaseURL:          cfg.Forum.BaseURL,
		TopicURLs:        cfg.Forum.TopicURLs,
		FeedURLs:         cfg.Forum.FeedURLs,
		BoardIDs:         cfg.Forum.BoardIDs,
		BoardStartPage:   cfg.Forum.BoardStartPage,
		BoardEndPage:     cfg.Forum.BoardEndPage,
		MaxPagesPerTopic: cfg.App.MaxPagesPerTopic,
		Years:            source.YearRange{Start: cfg.App.StartYear, End: cfg.App.EndYear},
		UserAgent:        cfg.App.UserAgent,
		Selectors: source.Selectors{
			Post: cfg.Forum.Selectors.Post,
			Date: cfg.Forum.Selectors.Date,
			Body: cfg.Forum.Selectors.Body,
		},
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier
	n := cfg.Notifications

	if n.Email.Enabled {
		notifiers = append(notifiers, alert.NewEmail(alert.EmailOptions{
			Host:     n.Email.SMTPHost,
			Port:     n.Email.SMTPPort,
			Username: n.Email.SMTPUser,
			Password: n.Email.SMTPPassword,
			From:     n.Email.FromAddress,
			To:       n.Email.ToAddresses,
		}))
	}
	if n.Webhook.Enabled && n.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(n.Webhook.URL, n.Webhook.Secret, cfg.App.UserAgent))
	}
	if n.Slack.Enabled && n.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(n.Slack.WebhookURL))
	}
	if n.Discord.Enabled && n.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(n.Discord.WebhookURL))
	}

	return alert.NewManager(notifiers)
}

func runPipeline(once bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg.App)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	forum := source.NewForum(buildForumOptions(cfg), nil, log.With("component", "forum"))
	checker := availability.New(cfg.Availability.BaseURL, cfg.App.UserAgent, nil)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(forum, checker, db, alertMgr, cfg.App.PollInterval(), log)

	if once {
		_, err := sched.RunOnce(ctx)
		return err
	}
	return sched.Run(ctx)
}

func runCheck(domain string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	domain = strings.ToLower(strings.TrimSpace(domain))
	checker := availability.New(cfg.Availability.BaseURL, cfg.App.UserAgent, nil)
	available, err := checker.Available(context.Background(), domain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup error: %v\n", err)
	}

	verdict := "registered"
	if available {
		verdict = "available"
	}
	fmt.Printf("%s\t%s\n", domain, verdict)
	return nil
}

func runShow(domain string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := db.Get(context.Background(), strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DOMAIN\t%s\n", rec.Domain)
	fmt.Fprintf(w, "AVAILABLE\t%t\n", rec.Available)
	fmt.Fprintf(w, "NOTIFIED\t%t\n", rec.Notified)
	fmt.Fprintf(w, "FIRST SEEN URL\t%s\n", rec.FirstSeenURL)
	fmt.Fprintf(w, "FIRST SEEN AT\t%s\n", rec.FirstSeenAt)
	fmt.Fprintf(w, "CHECKED AT\t%s\n", rec.CheckedAt.Format(time.RFC3339))
	return w.Flush()
}

func runMigrate(command string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Storage.SQLitePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}

	switch command {
	case "up":
		err = goose.Up(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	default:
		return fmt.Errorf("unknown migrate command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
