package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env files into the process environment. Missing files are
// skipped; variables already set win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// OverlayEnv copies credentials and a few deployment settings from the
// environment over cfg. Empty variables leave cfg alone.
func OverlayEnv(cfg *Config) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&cfg.App.DataDir, "RADAR_DATA_DIR")
	set(&cfg.App.LogLevel, "RADAR_LOG_LEVEL")
	set(&cfg.Database.Driver, "RADAR_DB_DRIVER")
	set(&cfg.Database.DSN, "RADAR_DB_DSN", "DATABASE_URL")

	set(&cfg.Forum.ClientID, "REDDIT_CLIENT_ID")
	set(&cfg.Forum.ClientSecret, "REDDIT_CLIENT_SECRET")
	set(&cfg.Forum.Username, "REDDIT_USERNAME")
	set(&cfg.Forum.Password, "REDDIT_PASSWORD")
	set(&cfg.Forum.UserAgent, "REDDIT_USER_AGENT")

	set(&cfg.AI.APIKey, "ANTHROPIC_API_KEY")
	set(&cfg.AI.Model, "AI_MODEL")

	set(&cfg.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&cfg.Notify.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	set(&cfg.Notify.Webhook.URL, "SLACK_WEBHOOK_URL", "RADAR_WEBHOOK_URL")
	set(&cfg.Notify.SMTP.Host, "SMTP_HOST")
	set(&cfg.Notify.SMTP.Username, "SMTP_USER")
	set(&cfg.Notify.SMTP.Password, "SMTP_PASSWORD")
	set(&cfg.Notify.SMTP.From, "EMAIL_FROM")
	set(&cfg.Notify.SMTP.To, "EMAIL_TO")
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && p > 0 {
		cfg.Notify.SMTP.Port = p
	}
	set(&cfg.Notify.IMAP.Addr, "IMAP_ADDR")
	set(&cfg.Notify.IMAP.Username, "IMAP_USER")
	set(&cfg.Notify.IMAP.Password, "IMAP_PASSWORD")

	set(&cfg.Approval.TokenSecret, "RADAR_TOKEN_SECRET")
	set(&cfg.Approval.LinkBaseURL, "RADAR_LINK_BASE_URL")

	if host := os.Getenv("PG_HOST"); host != "" && cfg.Database.DSN == "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = PostgresDSN(host, os.Getenv("PG_PORT"), os.Getenv("PG_DB"), os.Getenv("PG_USER"), os.Getenv("PG_PASSWORD"))
	}
}

// PostgresDSN builds a lib/pq URL from discrete settings.
func PostgresDSN(host, port, db, user, password string) string {
	if port == "" {
		port = "5432"
	}
	if db == "" {
		db = "reddit_radar"
	}
	if user == "" {
		user = "postgres"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
