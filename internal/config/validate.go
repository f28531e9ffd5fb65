package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"radar-engine/internal/domain"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// Err returns nil or a *domain.ConfigurationError listing every problem.
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return &domain.ConfigurationError{Problems: append([]string(nil), v.Errors...)}
}

var knownChannels = map[string]bool{"telegram": true, "webhook": true, "slack": true, "smtp": true, "email": true, "console": true}

// NormalizeAndValidate returns a normalized copy with defaults applied.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	ApplyDefaults(&out)

	trimList := func(xs []string, lower bool) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(x), "r/"))
			if lower {
				x = strings.ToLower(x)
			}
			if x == "" {
				continue
			}
			key := strings.ToLower(x)
			if seen[key] {
				continue
			}
			seen[key] = true
			ys = append(ys, x)
		}
		return ys
	}

	targets := make([]Target, 0, len(out.Scan.Targets))
	for i, t := range out.Scan.Targets {
		t.Keyword = strings.TrimSpace(t.Keyword)
		t.Subreddits = trimList(t.Subreddits, true)
		if t.Keyword == "" {
			res.addErr("scan.targets[%d].keyword is required", i)
			continue
		}
		if len(t.Subreddits) == 0 {
			res.addErr("scan.targets[%d].subreddits must have at least 1 entry", i)
			continue
		}
		targets = append(targets, t)
	}
	out.Scan.Targets = targets

	weights := make(map[string]float64, len(out.Scan.SubredditWeights))
	for k, w := range out.Scan.SubredditWeights {
		k = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "r/"))
		if w < 0 {
			res.addErr("scan.subreddit_weights[%s] must be >= 0", k)
		}
		weights[k] = w
	}
	out.Scan.SubredditWeights = weights

	out.Notify.Channels = trimList(out.Notify.Channels, true)
	out.Draft.Intents = trimList(out.Draft.Intents, false)

	// ---- Validation rules ----

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	switch out.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(out.Database.DSN) == "" {
			res.addErr("database.dsn is required when database.driver=postgres")
		}
	default:
		res.addErr("database.driver must be sqlite or postgres")
	}

	if _, err := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(out.Scan.Schedule); err != nil {
		res.addErr("scan.schedule is not a valid cron spec: %v", err)
	}
	if out.Scan.Lookback < 0 || out.Scan.Budget < 0 {
		res.addErr("scan.lookback and scan.budget must be positive")
	}
	if out.Scan.TopN < 0 {
		res.addErr("scan.top_n must be >= 0")
	}
	if out.Scan.Backoff.Max < out.Scan.Backoff.Initial {
		res.addErr("scan.backoff.max must be >= scan.backoff.initial")
	}
	if out.Forum.RequestsPerMinute < 0 {
		res.addErr("forum.requests_per_minute must be > 0")
	} else if out.Forum.RequestsPerMinute > 100 {
		res.addWarn("forum.requests_per_minute is %d; reddit allows about 100 per minute for OAuth clients.", out.Forum.RequestsPerMinute)
	}

	for i, r := range out.Classify.Rules {
		if _, ok := domain.ParseIntent(r.Intent); !ok {
			res.addErr("classify.rules[%d].intent %q is not a known intent", i, r.Intent)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			res.addErr("classify.rules[%d].confidence must be within 0..1", i)
		}
		if len(r.Any) == 0 {
			res.addErr("classify.rules[%d].any must have at least 1 term", i)
		}
		for j, term := range r.Any {
			if strings.TrimSpace(term) == "" {
				res.addErr("classify.rules[%d].any[%d] cannot be empty", i, j)
			}
		}
	}

	for _, in := range out.Draft.Intents {
		if _, ok := domain.ParseIntent(in); !ok {
			res.addErr("draft.intents contains unknown intent %q", in)
		}
	}

	if out.Approval.MaxAttempts < 1 || out.Notify.MaxAttempts < 1 {
		res.addErr("approval.max_attempts and notify.max_attempts must be >= 1")
	}

	for _, ch := range out.Notify.Channels {
		if !knownChannels[ch] {
			res.addErr("notify.channels: unknown channel %q", ch)
		}
	}

	if strings.TrimSpace(out.AI.APIKey) == "" {
		res.addWarn("ai.api_key is empty; classification uses keyword rules only and no drafts are generated.")
	}
	if out.Approval.LinkBaseURL != "" && out.Approval.TokenSecret == "" {
		res.addErr("approval.token_secret is required when approval.link_base_url is set")
	}

	return out, res
}

func Validate(cfg Config) error {
	_, res := NormalizeAndValidate(cfg)
	return res.Err()
}

type Purpose int

const (
	PurposeScan Purpose = iota
	PurposeListen
	PurposeServe
	PurposePost
)

// Require checks the credentials a command needs before it does any work.
// cfg is expected to be normalized.
func Require(cfg Config, p Purpose) error {
	var res Validation

	needChannels := func() {
		for _, ch := range cfg.Notify.Channels {
			switch ch {
			case "telegram":
				if cfg.Notify.Telegram.BotToken == "" || cfg.Notify.Telegram.ChatID == "" {
					res.addErr("notify.telegram.bot_token and chat_id are required for the telegram channel")
				}
			case "webhook", "slack":
				if cfg.Notify.Webhook.URL == "" {
					res.addErr("notify.webhook.url is required for the webhook channel")
				}
			case "smtp", "email":
				s := cfg.Notify.SMTP
				if s.Host == "" || s.Username == "" || s.Password == "" || s.To == "" {
					res.addErr("notify.smtp host, username, password and to are required for the smtp channel")
				}
			}
		}
	}
	needForum := func() {
		f := cfg.Forum
		var missing []string
		for name, v := range map[string]string{
			"client_id": f.ClientID, "client_secret": f.ClientSecret, "username": f.Username, "password": f.Password,
		} {
			if strings.TrimSpace(v) == "" {
				missing = append(missing, "forum."+name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			res.addErr("missing forum credentials: %s", strings.Join(missing, ", "))
		}
	}

	switch p {
	case PurposeScan:
		needForum()
		needChannels()
		if len(cfg.Scan.Targets) == 0 {
			res.addErr("scan.targets is empty; nothing to scan")
		}
	case PurposeListen:
		needForum()
		tg := cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID != ""
		if !tg && !cfg.Notify.IMAP.Enabled {
			res.addErr("listen needs notify.telegram credentials or notify.imap.enabled")
		}
		if cfg.Notify.IMAP.Enabled && (cfg.Notify.IMAP.Addr == "" || cfg.Notify.IMAP.Username == "" || cfg.Notify.IMAP.Password == "") {
			res.addErr("notify.imap addr, username and password are required when imap is enabled")
		}
		if cfg.Notify.IMAP.Enabled && cfg.Approval.TokenSecret == "" {
			res.addErr("approval.token_secret is required for email replies")
		}
	case PurposeServe:
		needChannels()
	case PurposePost:
		needForum()
	}
	return res.Err()
}
