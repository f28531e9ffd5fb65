package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/domain"
)

func TestDefaultYAMLIsValid(t *testing.T) {
	cfg, err := Parse(DefaultYAML())
	require.NoError(t, err)

	out, res := NormalizeAndValidate(cfg)
	require.True(t, res.OK(), "errors: %v", res.Errors)
	assert.Equal(t, 24*time.Hour, out.Scan.Lookback)
	assert.Equal(t, 5, out.Scan.TopN)
	assert.Len(t, out.Scan.Targets, 2)
	assert.Equal(t, 1.5, out.Scan.SubredditWeights["saas"])
	assert.Contains(t, res.Warnings[0], "ai.api_key")
}

func TestNormalizeTrimsAndLowercases(t *testing.T) {
	var cfg Config
	cfg.Scan.Targets = []Target{{Keyword: "  crm ", Subreddits: []string{"r/SaaS", "saas", " "}}}
	cfg.Scan.SubredditWeights = map[string]float64{"r/SaaS": 2}
	cfg.Notify.Channels = []string{"Telegram", "telegram"}

	out, _ := NormalizeAndValidate(cfg)
	assert.Equal(t, "crm", out.Scan.Targets[0].Keyword)
	assert.Equal(t, []string{"saas"}, out.Scan.Targets[0].Subreddits)
	assert.Equal(t, 2.0, out.Scan.SubredditWeights["saas"])
	assert.Equal(t, []string{"telegram"}, out.Notify.Channels)
}

func TestValidateCollectsErrors(t *testing.T) {
	var cfg Config
	cfg.Database.Driver = "mysql"
	cfg.Scan.Schedule = "not a cron"
	cfg.Classify.Rules = []Rule{{Intent: "SPAM", Confidence: 2}}
	cfg.Notify.Channels = []string{"pager"}

	err := Validate(cfg)
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.GreaterOrEqual(t, len(ce.Problems), 5)
}

func TestRequireScanReportsMissingCredentials(t *testing.T) {
	cfg, err := Parse(DefaultYAML())
	require.NoError(t, err)
	cfg.Notify.Channels = []string{"telegram"}
	cfg, _ = NormalizeAndValidate(cfg)

	err = Require(cfg, PurposeScan)
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "forum.client_id")
	assert.Contains(t, ce.Error(), "telegram")

	cfg.Forum.ClientID, cfg.Forum.ClientSecret, cfg.Forum.Username, cfg.Forum.Password = "id", "secret", "u", "p"
	cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID = "tok", "42"
	assert.NoError(t, Require(cfg, PurposeScan))
}

func TestOverlayEnv(t *testing.T) {
	t.Setenv("REDDIT_CLIENT_ID", "from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "99")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_PASSWORD", "pw")

	var cfg Config
	cfg.Forum.ClientID = "from-file"
	OverlayEnv(&cfg)

	assert.Equal(t, "from-env", cfg.Forum.ClientID)
	assert.Equal(t, "99", cfg.Notify.Telegram.ChatID)
	assert.Equal(t, 2525, cfg.Notify.SMTP.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://postgres:pw@db.internal:5432/reddit_radar?sslmode=disable", cfg.Database.DSN)
}

func TestLoadEnvSkipsMissingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnv(filepath.Join(dir, "nope.env")))

	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("RADAR_TEST_ONLY_VAR=hello\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("RADAR_TEST_ONLY_VAR") })
	require.NoError(t, LoadEnv(p))
	assert.Equal(t, "hello", os.Getenv("RADAR_TEST_ONLY_VAR"))
}

func TestEnsureUserConfigAndSaveAtomic(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureUserConfig(dir, filepath.Join(dir, "missing.yml"))
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Scan.TopN = 9
	require.NoError(t, SaveAtomic(path, cfg))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, again.Scan.TopN)
	assert.Equal(t, 24*time.Hour, again.Scan.Lookback)
	assert.FileExists(t, path+".bak")
}

func TestRedactedMasksCredentialsOnly(t *testing.T) {
	var cfg Config
	cfg.Forum.Username = "radarbot"
	cfg.Forum.Password = "hunter2"
	cfg.AI.APIKey = "sk-ant"
	cfg.Notify.Telegram.ChatID = "42"

	out := Redacted(cfg)
	assert.Equal(t, "radarbot", out.Forum.Username)
	assert.Equal(t, "42", out.Notify.Telegram.ChatID)
	assert.Equal(t, redacted, out.Forum.Password)
	assert.Equal(t, redacted, out.AI.APIKey)
	assert.Empty(t, out.Notify.SMTP.Password)
	assert.Equal(t, "hunter2", cfg.Forum.Password)
}
