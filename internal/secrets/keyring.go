package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"radar-engine/internal/config"
)

const (
	// “Service” groups the app’s secrets in the OS keychain.
	KeyringService = "radar"
)

type Kind string

const (
	KindForum    Kind = "forum"
	KindSMTP     Kind = "smtp"
	KindIMAP     Kind = "imap"
	KindTelegram Kind = "telegram"
	KindAI       Kind = "ai"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindForum, KindSMTP, KindIMAP, KindTelegram, KindAI:
		return k, nil
	}
	return "", fmt.Errorf("unknown secret kind %q (forum, smtp, imap, telegram, ai)", s)
}

// Account names the keychain entry for a credential of cfg.
func Account(cfg config.Config, kind Kind) string {
	var user, host string
	switch kind {
	case KindForum:
		user, host = cfg.Forum.Username, "reddit"
	case KindSMTP:
		user, host = cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Host
	case KindIMAP:
		user, host = cfg.Notify.IMAP.Username, cfg.Notify.IMAP.Addr
	case KindTelegram:
		user, host = cfg.Notify.Telegram.ChatID, "telegram"
	case KindAI:
		user, host = "default", "anthropic"
	}
	return fmt.Sprintf("radar:%s:%s@%s", kind, user, host)
}

func Get(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	pw, err := keyring.Get(KeyringService, account)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(pw) == "" {
		return "", keyring.ErrNotFound
	}
	return pw, nil
}

func Set(account, secret string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, account, secret)
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, account)
}

// Resolve fills empty credentials in cfg from the keychain. Lookups that fail
// leave the field empty; config.Require reports what is still missing.
func Resolve(cfg *config.Config) {
	fill := func(dst *string, kind Kind) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v, err := Get(Account(*cfg, kind)); err == nil {
			*dst = v
		}
	}
	fill(&cfg.Forum.Password, KindForum)
	fill(&cfg.Notify.SMTP.Password, KindSMTP)
	fill(&cfg.Notify.IMAP.Password, KindIMAP)
	fill(&cfg.Notify.Telegram.BotToken, KindTelegram)
	fill(&cfg.AI.APIKey, KindAI)
}
