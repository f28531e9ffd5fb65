package config

const redacted = "********"

// Redacted returns a copy of cfg with every credential masked.
func Redacted(cfg Config) Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Database.DSN)
	mask(&cfg.Forum.ClientSecret)
	mask(&cfg.Forum.Password)
	mask(&cfg.AI.APIKey)
	mask(&cfg.Approval.TokenSecret)
	mask(&cfg.Notify.Telegram.BotToken)
	mask(&cfg.Notify.Webhook.URL)
	mask(&cfg.Notify.SMTP.Password)
	mask(&cfg.Notify.IMAP.Password)
	return cfg
}
