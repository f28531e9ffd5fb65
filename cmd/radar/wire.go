package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"radar-engine/internal/ai"
	"radar-engine/internal/approval"
	"radar-engine/internal/classify"
	"radar-engine/internal/draft"
	"radar-engine/internal/events"
	"radar-engine/internal/forum/reddit"
	"radar-engine/internal/notify"
	"radar-engine/internal/pipeline"
	"radar-engine/internal/rank"
	"radar-engine/internal/store"
)

// engine is everything a command may need, built from the loaded config.
type engine struct {
	db     *store.DB
	forum  *reddit.Client
	ai     *ai.Client
	signer *approval.TokenSigner // nil without approval.token_secret
	bot    *notify.Bot           // nil without telegram credentials
	hub    *events.Hub           // nil outside serve
}

func openStore(ctx context.Context) (*store.DB, error) {
	var (
		db  *store.DB
		err error
	)
	switch cfg.Database.Driver {
	case string(store.DialectPostgres):
		db, err = store.OpenDSN(store.DialectPostgres, cfg.Database.DSN)
	default:
		path := cfg.Database.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.App.DataDir, path)
		}
		db, err = store.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newEngine(ctx context.Context, hub *events.Hub) (*engine, error) {
	db, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	e := &engine{db: db, hub: hub}

	f := cfg.Forum
	e.forum = reddit.New(reddit.Config{
		ClientID:          f.ClientID,
		ClientSecret:      f.ClientSecret,
		Username:          f.Username,
		Password:          f.Password,
		UserAgent:         f.UserAgent,
		BaseURL:           f.BaseURL,
		AuthURL:           f.AuthURL,
		RequestsPerMinute: f.RequestsPerMinute,
		MinCommentGap:     time.Duration(f.MinSecondsBetweenComments) * time.Second,
		Timeout:           f.RequestTimeout,
	})

	e.ai = ai.New(ai.Config{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		BaseURL:           cfg.AI.BaseURL,
		MaxTokensClassify: cfg.AI.MaxTokensClassify,
		MaxTokensDraft:    cfg.AI.MaxTokensDraft,
		Timeout:           cfg.AI.Timeout,
	}, logger)

	if cfg.Approval.TokenSecret != "" {
		e.signer, err = approval.NewTokenSigner(cfg.Approval.TokenSecret, cfg.Approval.TokenTTL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if tg := cfg.Notify.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		e.bot = notify.NewBot(tg.BotToken, tg.APIBase)
	}
	return e, nil
}

func (e *engine) Close() error { return e.db.Close() }

// publisher keeps a nil hub from becoming a non-nil interface.
func (e *engine) publisher() events.Publisher {
	if e.hub == nil {
		return nil
	}
	return e.hub
}

func (e *engine) channels() []notify.Channel {
	var out []notify.Channel
	seen := map[string]bool{}
	add := func(ch notify.Channel) {
		if !seen[ch.Name()] {
			seen[ch.Name()] = true
			out = append(out, ch)
		}
	}
	for _, name := range cfg.Notify.Channels {
		switch name {
		case "telegram":
			if e.bot != nil {
				add(notify.NewTelegramChannel(e.bot, cfg.Notify.Telegram.ChatID))
			}
		case "webhook", "slack":
			add(notify.NewWebhookChannel(cfg.Notify.Webhook.URL))
		case "smtp", "email":
			s := cfg.Notify.SMTP
			add(notify.NewSMTPChannel(notify.SMTPConfig{
				Host: s.Host, Port: s.Port, Username: s.Username, Password: s.Password, From: s.From, To: s.To,
			}))
		case "console":
			add(notify.NewConsoleChannel(nil))
		default:
			logger.Warn("unknown notify channel ignored", zap.String("channel", name))
		}
	}
	return out
}

func (e *engine) router() *notify.Router {
	opts := notify.Options{
		MaxAttempts: cfg.Notify.MaxAttempts,
		RetryDelay:  cfg.Notify.RetryDelay,
		LinkBaseURL: cfg.Approval.LinkBaseURL,
		Deliveries:  e.db,
		Events:      e.publisher(),
	}
	if e.signer != nil {
		opts.Tokens = e.signer
	}
	return notify.NewRouter(e.channels(), opts, logger)
}

func (e *engine) pipeline() *pipeline.Pipeline {
	classifier := classify.New(e.ai, classify.Options{
		Rules:      classify.RulesFromConfig(cfg.Classify.Rules),
		Timeout:    cfg.Classify.Timeout,
		RetryDelay: cfg.Classify.RetryDelay,
	}, logger)
	drafter := draft.New(e.ai, cfg.Draft, logger)

	opts := pipeline.OptionsFromConfig(cfg, filepath.Join(cfg.App.DataDir, "scan.lock"))
	opts.Events = e.publisher()
	return pipeline.New(e.forum, e.db, classifier, rank.EngagementScorer{}, drafter, e.router(), opts, logger)
}

func (e *engine) machine() *approval.Machine {
	a := cfg.Approval
	return approval.NewMachine(e.db, e.forum, approval.Options{
		MaxAttempts: a.MaxAttempts,
		RetryDelay:  a.RetryDelay,
		MaxDelay:    a.MaxDelay,
		CommentGap:  time.Duration(cfg.Forum.MinSecondsBetweenComments) * time.Second,
		Events:      e.publisher(),
	}, logger)
}

// listeners returns the approval sources the config enables.
func (e *engine) listeners(m *approval.Machine) []func(context.Context) error {
	var out []func(context.Context) error
	if e.bot != nil {
		out = append(out, approval.NewTelegramListener(e.bot, cfg.Notify.Telegram.ChatID, m, cfg.Approval.PollTimeout).Run)
	}
	if im := cfg.Notify.IMAP; im.Enabled && e.signer != nil {
		out = append(out, approval.NewMailSource(approval.MailConfig{
			Addr:     im.Addr,
			Username: im.Username,
			Password: im.Password,
			Mailbox:  im.Mailbox,
			Interval: im.Interval,
		}, e.signer, m).Run)
	}
	return out
}
