package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"radar-engine/internal/domain"
)

// SlackTextLimit is the cap on a single section block's text.
const SlackTextLimit = 3000

// WebhookChannel posts Slack-style blocks to an incoming webhook.
type WebhookChannel struct {
	url string
	hc  *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{url: url, hc: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookChannel) Name() string { return "webhook" }

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SlackElement struct {
	Type  string    `json:"type"`
	Text  SlackText `json:"text"`
	URL   string    `json:"url,omitempty"`
	Style string    `json:"style,omitempty"`
}

type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackText     `json:"text,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

// FormatSlack builds the webhook payload for m.
func FormatSlack(m Message) (SlackPayload, bool) {
	title := m.Title()
	header := cutRunes(title, 150)

	summary := m.Summary()
	if m.Candidate.Post.URL != "" {
		summary += fmt.Sprintf("\n<%s|View on Reddit>", m.Candidate.Post.URL)
	}
	summary, t1 := Fit(summary, "", "", SlackTextLimit)
	body, t2 := Fit("", m.Body(), "", SlackTextLimit)

	p := SlackPayload{
		Text: title,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: summary}},
		},
	}
	if body != "" {
		p.Blocks = append(p.Blocks, SlackBlock{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: body}})
	}

	var buttons []SlackElement
	for _, a := range m.Actions {
		if a.URL == "" {
			continue
		}
		el := SlackElement{Type: "button", Text: SlackText{Type: "plain_text", Text: a.Label}, URL: a.URL}
		switch a.Kind {
		case ActionApprove:
			el.Style = "primary"
		case ActionSkip:
			el.Style = "danger"
		}
		buttons = append(buttons, el)
	}
	if len(buttons) > 0 {
		p.Blocks = append(p.Blocks, SlackBlock{Type: "actions", Elements: buttons})
	}
	return p, t1 || t2
}

func (w *WebhookChannel) Send(ctx context.Context, m Message) (Result, error) {
	p, truncated := FormatSlack(m)
	b, err := json.Marshal(p)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &domain.TransientError{Op: "webhook", Err: err}
	}
	defer res.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))

	switch {
	case res.StatusCode < 300:
		return Result{Truncated: truncated}, nil
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return Result{}, &domain.TransientError{Op: "webhook", Err: fmt.Errorf("status %d: %s", res.StatusCode, msg)}
	}
	return Result{}, &PermanentError{Channel: "webhook", Err: fmt.Errorf("status %d: %s", res.StatusCode, msg)}
}
