package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"radar-engine/internal/config"
)

func TestResolveFillsOnlyEmptyFields(t *testing.T) {
	keyring.MockInit()

	var cfg config.Config
	cfg.Forum.Username = "radarbot"
	cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Host = "ops", "smtp.example.com"
	cfg.Notify.SMTP.Password = "already-set"

	require.NoError(t, Set(Account(cfg, KindForum), "hunter2"))
	require.NoError(t, Set(Account(cfg, KindSMTP), "from-keyring"))

	Resolve(&cfg)
	assert.Equal(t, "hunter2", cfg.Forum.Password)
	assert.Equal(t, "already-set", cfg.Notify.SMTP.Password)
	assert.Empty(t, cfg.Notify.IMAP.Password)

	require.NoError(t, Delete(Account(cfg, KindForum)))
	_, err := Get(Account(cfg, KindForum))
	assert.Error(t, err)
}

func TestAccountAndKind(t *testing.T) {
	var cfg config.Config
	cfg.Forum.Username = "radarbot"
	assert.Equal(t, "radar:forum:radarbot@reddit", Account(cfg, KindForum))

	k, err := ParseKind("SMTP")
	require.NoError(t, err)
	assert.Equal(t, KindSMTP, k)

	_, err = ParseKind("ftp")
	assert.Error(t, err)
	assert.Error(t, Set("", "x"))
}
