package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"radar-engine/internal/domain"
)

// TelegramLimit is the Bot API cap on message text.
const TelegramLimit = 4096

// Bot is a minimal Telegram Bot API client shared by the notification
// channel and the approval listener.
type Bot struct {
	token   string
	apiBase string
	hc      *http.Client
}

func NewBot(token, apiBase string) *Bot {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Bot{
		token:   token,
		apiBase: strings.TrimRight(apiBase, "/"),
		hc:      &http.Client{Timeout: 60 * time.Second},
	}
}

type TgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type TgChat struct {
	ID int64 `json:"id"`
}

type TgMessage struct {
	MessageID int64   `json:"message_id"`
	Chat      TgChat  `json:"chat"`
	From      *TgUser `json:"from,omitempty"`
	Text      string  `json:"text"`
}

type CallbackQuery struct {
	ID      string     `json:"id"`
	From    TgUser     `json:"from"`
	Message *TgMessage `json:"message,omitempty"`
	Data    string     `json:"data"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *TgMessage     `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type InlineKeyboard struct {
	Rows [][]InlineButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (b *Bot) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.TransientError{Op: "telegram " + method, Err: err}
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))

	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)
	if res.StatusCode == http.StatusOK && ar.OK {
		if out != nil && len(ar.Result) > 0 {
			return json.Unmarshal(ar.Result, out)
		}
		return nil
	}

	apiErr := fmt.Errorf("telegram %s: %d %s", method, res.StatusCode, ar.Description)
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		if ar.Parameters.RetryAfter > 0 {
			apiErr = fmt.Errorf("%w (retry after %ds)", apiErr, ar.Parameters.RetryAfter)
		}
		return &domain.TransientError{Op: "telegram " + method, Err: apiErr}
	case res.StatusCode >= 500:
		return &domain.TransientError{Op: "telegram " + method, Err: apiErr}
	}
	return &PermanentError{Channel: "telegram", Err: apiErr}
}

// SendMessage posts HTML text and returns the new message id.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string, kb *InlineKeyboard) (int64, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if kb != nil {
		payload["reply_markup"] = kb
	}
	var msg TgMessage
	if err := b.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces a message's text and drops its keyboard.
func (b *Bot) EditMessageText(ctx context.Context, chatID string, messageID int64, text string) error {
	return b.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

func (b *Bot) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	return b.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": id,
		"text":              text,
	}, nil)
}

// GetUpdates long-polls for callbacks and messages after offset.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var ups []Update
	err := b.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"callback_query", "message"},
	}, &ups)
	return ups, err
}

// TelegramChannel pushes candidates to one chat, with inline approval buttons.
type TelegramChannel struct {
	bot    *Bot
	chatID string
}

func NewTelegramChannel(bot *Bot, chatID string) *TelegramChannel {
	return &TelegramChannel{bot: bot, chatID: chatID}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, m Message) (Result, error) {
	text, truncated := FormatTelegram(m)

	var kb *InlineKeyboard
	if m.Interactive() {
		row := make([]InlineButton, 0, len(m.Actions))
		for _, a := range m.Actions {
			row = append(row, InlineButton{Text: a.Label, CallbackData: a.CallbackData(m.Candidate.Fingerprint)})
		}
		kb = &InlineKeyboard{Rows: [][]InlineButton{row}}
	}

	id, err := t.bot.SendMessage(ctx, t.chatID, text, kb)
	if err != nil {
		return Result{}, err
	}
	return Result{Truncated: truncated, Ref: strconv.FormatInt(id, 10)}, nil
}

var priorityMark = map[Priority]string{
	PriorityUrgent: "🚨 ",
	PriorityNormal: "",
	PriorityLow:    "",
}

// FormatTelegram renders m as Bot API HTML within TelegramLimit.
func FormatTelegram(m Message) (string, bool) {
	c := m.Candidate
	header := fmt.Sprintf("%s<b>%s</b>\n%s\n<a href=\"%s\">View on Reddit</a>",
		priorityMark[m.Priority],
		html.EscapeString(m.Title()),
		html.EscapeString(m.Summary()),
		html.EscapeString(c.Post.URL),
	)
	return fitEscaped(header, m.Body(), "\n\n", TelegramLimit)
}

// fitEscaped is Fit for an already-escaped header and a raw body that is
// escaped after cutting, so no entity is ever split.
func fitEscaped(header, body, sep string, limit int) (string, bool) {
	esc := html.EscapeString(body)
	if out, truncated := Fit(header, esc, sep, limit); !truncated {
		return out, false
	}
	room := limit - runeLen(header) - runeLen(sep) - runeLen(truncMarker)
	if room <= 0 {
		return Fit(header, "", sep, limit)
	}
	n := room
	for n > 0 {
		cand := html.EscapeString(cutRunes(body, n))
		over := runeLen(cand) - room
		if over <= 0 {
			return header + sep + cand + truncMarker, true
		}
		n -= over
	}
	return header + truncMarker, true
}
