package notify

import (
	"fmt"
	"strings"

	"radar-engine/internal/domain"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// PriorityFor labels a candidate by intent.
func PriorityFor(in domain.Intent) Priority {
	switch in {
	case domain.IntentHotLead, domain.IntentPartnership:
		return PriorityUrgent
	case domain.IntentCompetitor:
		return PriorityLow
	}
	return PriorityNormal
}

const (
	ActionApprove = "approve"
	ActionEdit    = "edit"
	ActionSkip    = "skip"
)

// Action is one interactive choice offered for a PENDING_APPROVAL candidate.
// Token and URL are set only when action signing is configured.
type Action struct {
	Kind  string
	Label string
	Token string
	URL   string
}

// CallbackData is the compact form used by chat-bot buttons.
func (a Action) CallbackData(fp string) string { return a.Kind + ":" + fp }

// ParseCallback splits "action:fingerprint". Fingerprints contain a colon
// themselves, so only the first one separates.
func ParseCallback(data string) (action, fp string, ok bool) {
	action, fp, ok = strings.Cut(data, ":")
	if !ok || fp == "" {
		return "", "", false
	}
	switch action {
	case ActionApprove, ActionEdit, ActionSkip:
		return action, fp, true
	}
	return "", "", false
}

type Message struct {
	Candidate domain.Candidate
	Priority  Priority
	Actions   []Action
}

func (m Message) Interactive() bool { return len(m.Actions) > 0 }

// Title is the one-line header shared by all channels.
func (m Message) Title() string {
	c := m.Candidate
	return fmt.Sprintf("[%s] r/%s: %s", c.Intent, c.Post.Subreddit, oneLine(c.Post.Title, 120))
}

// Summary is the fixed-size part of a notification: it is never truncated.
func (m Message) Summary() string {
	c := m.Candidate
	var sb strings.Builder
	fmt.Fprintf(&sb, "Intent: %s (%.0f%%) | priority %s\n", c.Intent, c.Confidence*100, m.Priority)
	fmt.Fprintf(&sb, "Score: %.2f | %d upvotes, %d comments\n", c.Score, c.Post.Score, c.Post.NumComments)
	if c.Post.Author != "" {
		fmt.Fprintf(&sb, "Author: u/%s\n", c.Post.Author)
	}
	if c.Reasoning != "" {
		fmt.Fprintf(&sb, "Why: %s\n", oneLine(c.Reasoning, 200))
	}
	sb.WriteString(c.Post.URL)
	return sb.String()
}

// Body is the variable part: the post excerpt and, when present, the draft.
func (m Message) Body() string {
	c := m.Candidate
	var sb strings.Builder
	if b := strings.TrimSpace(c.Post.Body); b != "" {
		sb.WriteString("Post:\n")
		sb.WriteString(b)
	}
	if c.Draft != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Draft reply:\n")
		sb.WriteString(c.Draft)
	}
	return sb.String()
}

const truncMarker = "\n…[truncated]"

// Fit joins header and body within limit runes. When the body does not fit it
// is cut and marked; truncated reports whether that happened.
func Fit(header, body, sep string, limit int) (out string, truncated bool) {
	full := header
	if body != "" {
		full = header + sep + body
	}
	if limit <= 0 || runeLen(full) <= limit {
		return full, false
	}

	room := limit - runeLen(header) - runeLen(sep) - runeLen(truncMarker)
	if room <= 0 {
		return cutRunes(header, limit-runeLen(truncMarker)) + truncMarker, true
	}
	return header + sep + cutRunes(body, room) + truncMarker, true
}

func runeLen(s string) int { return len([]rune(s)) }

func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runeLen(s) > n {
		return cutRunes(s, n-1) + "…"
	}
	return s
}
