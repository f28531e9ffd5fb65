package config

import "time"

const (
	DefaultPort     = 38471
	DefaultModel    = "claude-haiku-4-5"
	DefaultSchedule = "0 */30 * * * *"
)

// ApplyDefaults fills zero values: one-day lookback, five per batch,
// three attempts two seconds apart, 60 req/min.
func ApplyDefaults(cfg *Config) {
	if cfg.App.Port == 0 {
		cfg.App.Port = DefaultPort
	}
	if cfg.App.DataDir == "" {
		cfg.App.DataDir = "."
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "radar.db"
	}

	f := &cfg.Forum
	if f.UserAgent == "" {
		f.UserAgent = "radar-engine/1.0"
	}
	if f.BaseURL == "" {
		f.BaseURL = "https://oauth.reddit.com"
	}
	if f.AuthURL == "" {
		f.AuthURL = "https://www.reddit.com/api/v1/access_token"
	}
	if f.RequestsPerMinute == 0 {
		f.RequestsPerMinute = 60
	}
	if f.MinSecondsBetweenComments == 0 {
		f.MinSecondsBetweenComments = 60
	}
	if f.RequestTimeout == 0 {
		f.RequestTimeout = 30 * time.Second
	}

	s := &cfg.Scan
	if s.Schedule == "" {
		s.Schedule = DefaultSchedule
	}
	if s.Lookback == 0 {
		s.Lookback = 24 * time.Hour
	}
	if s.TopN == 0 {
		s.TopN = 5
	}
	if s.Budget == 0 {
		s.Budget = 5 * time.Minute
	}
	if s.FetchConcurrency == 0 {
		s.FetchConcurrency = 2
	}
	if s.FetchTimeout == 0 {
		s.FetchTimeout = time.Minute
	}
	if s.Backoff.Initial == 0 {
		s.Backoff.Initial = time.Minute
	}
	if s.Backoff.Max == 0 {
		s.Backoff.Max = time.Hour
	}

	if cfg.Classify.Timeout == 0 {
		cfg.Classify.Timeout = 20 * time.Second
	}
	if cfg.Classify.RetryDelay == 0 {
		cfg.Classify.RetryDelay = 2 * time.Second
	}

	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultModel
	}
	if cfg.AI.MaxTokensClassify == 0 {
		cfg.AI.MaxTokensClassify = 200
	}
	if cfg.AI.MaxTokensDraft == 0 {
		cfg.AI.MaxTokensDraft = 500
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30 * time.Second
	}

	if len(cfg.Draft.Intents) == 0 {
		cfg.Draft.Intents = []string{"HOT_LEAD", "PARTNERSHIP", "COMPETITOR"}
	}
	if cfg.Draft.MinConfidence == 0 {
		cfg.Draft.MinConfidence = 0.5
	}

	a := &cfg.Approval
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	if a.RetryDelay == 0 {
		a.RetryDelay = 2 * time.Second
	}
	if a.MaxDelay == 0 {
		a.MaxDelay = 30 * time.Second
	}
	if a.TokenTTL == 0 {
		a.TokenTTL = 72 * time.Hour
	}
	if a.PollTimeout == 0 {
		a.PollTimeout = 30 * time.Second
	}

	n := &cfg.Notify
	if len(n.Channels) == 0 {
		n.Channels = []string{"console"}
	}
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 3
	}
	if n.RetryDelay == 0 {
		n.RetryDelay = 2 * time.Second
	}
	if n.Telegram.APIBase == "" {
		n.Telegram.APIBase = "https://api.telegram.org"
	}
	if n.SMTP.Port == 0 {
		n.SMTP.Port = 587
	}
	if n.SMTP.From == "" {
		n.SMTP.From = n.SMTP.Username
	}
	if n.IMAP.Mailbox == "" {
		n.IMAP.Mailbox = "INBOX"
	}
	if n.IMAP.Interval == 0 {
		n.IMAP.Interval = time.Minute
	}
}
