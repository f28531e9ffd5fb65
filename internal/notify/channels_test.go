package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/domain"
)

func pendingMessage(body string) Message {
	c := candidate("p1", domain.IntentHotLead, domain.StatusPendingApproval)
	if body != "" {
		c.Post.Body = body
	}
	return Message{
		Candidate: c,
		Priority:  PriorityUrgent,
		Actions: []Action{
			{Kind: ActionApprove, Label: "Post", Token: "tok-a", URL: "https://r.example/actions?token=tok-a"},
			{Kind: ActionEdit, Label: "Edit", Token: "tok-e"},
			{Kind: ActionSkip, Label: "Skip", Token: "tok-s", URL: "https://r.example/actions?token=tok-s"},
		},
	}
}

func TestTelegramChannelSendsKeyboard(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77,"chat":{"id":5}}}`)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(NewBot("TOKEN", srv.URL), "5")
	res, err := ch.Send(context.Background(), pendingMessage(""))
	require.NoError(t, err)
	assert.Equal(t, "77", res.Ref)
	assert.False(t, res.Truncated)

	assert.Equal(t, "HTML", got["parse_mode"])
	kb := got["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	row := kb[0].([]any)
	require.Len(t, row, 3)
	assert.Equal(t, "approve:reddit:p1", row[0].(map[string]any)["callback_data"])
}

func TestTelegramErrorMapping(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`)
	}))
	defer srv.Close()

	bot := NewBot("T", srv.URL)
	_, err := bot.SendMessage(context.Background(), "1", "x", nil)
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "retry after 3s")

	status = http.StatusBadRequest
	_, err = bot.SendMessage(context.Background(), "1", "x", nil)
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestFormatTelegramEscapesAndFits(t *testing.T) {
	body := strings.Repeat("<b>&", 3000)
	text, truncated := FormatTelegram(pendingMessage(body))
	assert.True(t, truncated)
	assert.LessOrEqual(t, runeLen(text), TelegramLimit)
	assert.NotContains(t, text, "<b>&")
	assert.True(t, strings.HasSuffix(text, truncMarker))
	// no entity is cut in half
	tail := strings.TrimSuffix(text, truncMarker)
	i := strings.LastIndex(tail, "&")
	assert.Contains(t, tail[i:], ";")
}

func TestFormatSlackBlocks(t *testing.T) {
	p, truncated := FormatSlack(pendingMessage(strings.Repeat("x", 5000)))
	assert.True(t, truncated)
	require.GreaterOrEqual(t, len(p.Blocks), 4)
	assert.Equal(t, "header", p.Blocks[0].Type)
	for _, b := range p.Blocks {
		if b.Text != nil {
			assert.LessOrEqual(t, runeLen(b.Text.Text), SlackTextLimit)
		}
	}
	actions := p.Blocks[len(p.Blocks)-1]
	assert.Equal(t, "actions", actions.Type)
	require.Len(t, actions.Elements, 2)
	assert.Equal(t, "primary", actions.Elements[0].Style)
	assert.Equal(t, "danger", actions.Elements[1].Style)
}

func TestWebhookStatusMapping(t *testing.T) {
	status := http.StatusOK
	var body SlackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	_, err := ch.Send(context.Background(), pendingMessage(""))
	require.NoError(t, err)
	assert.Contains(t, body.Text, "HOT_LEAD")

	status = http.StatusServiceUnavailable
	_, err = ch.Send(context.Background(), pendingMessage(""))
	assert.True(t, domain.IsTransient(err))

	status = http.StatusNotFound
	_, err = ch.Send(context.Background(), pendingMessage(""))
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestBuildEmail(t *testing.T) {
	raw, truncated, err := BuildEmail("radar@example.com", "me@example.com, you@example.com", t0, pendingMessage(""))
	require.NoError(t, err)
	assert.False(t, truncated)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(subject, "[Reddit Radar] [HOT_LEAD]"))
	assert.Equal(t, "reddit:p1", mr.Header.Get(FingerprintHeader))
	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	assert.Len(t, to, 2)

	part, err := mr.NextPart()
	require.NoError(t, err)
	b, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "APPROVE: https://r.example/actions?token=tok-a")
	assert.Contains(t, text, `EDIT: reply with "EDIT tok-e"`)
	assert.Contains(t, text, "Draft reply:")
}

func TestConsoleChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewConsoleChannel(&buf)
	m := pendingMessage("")
	m.Actions[1].URL = ""
	_, err := ch.Send(context.Background(), m)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "[URGENT] [HOT_LEAD]")
	assert.Contains(t, out, "[edit] radar edit reddit:p1")
	assert.Contains(t, out, "[approve] https://r.example/actions?token=tok-a")
}

func TestGetUpdatesDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 10, req["offset"])
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"callback_query":{"id":"cb1","from":{"id":1},"message":{"message_id":3,"chat":{"id":5}},"data":"skip:reddit:p1"}},
			{"update_id":11,"message":{"message_id":4,"chat":{"id":5},"text":"hello"}}]}`)
	}))
	defer srv.Close()

	ups, err := NewBot("T", srv.URL).GetUpdates(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, "skip:reddit:p1", ups[0].CallbackQuery.Data)
	assert.Equal(t, "hello", ups[1].Message.Text)
}
