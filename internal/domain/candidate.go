package domain

import (
	"strings"
	"time"
)

type Intent string

const (
	IntentHotLead     Intent = "HOT_LEAD"
	IntentCompetitor  Intent = "COMPETITOR"
	IntentContentIdea Intent = "CONTENT_IDEA"
	IntentPartnership Intent = "PARTNERSHIP"
	IntentNoise       Intent = "NOISE"
)

var Intents = []Intent{IntentHotLead, IntentCompetitor, IntentContentIdea, IntentPartnership, IntentNoise}

// ParseIntent accepts any casing and surrounding whitespace.
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	for _, in := range Intents {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}

func (i Intent) Valid() bool {
	for _, in := range Intents {
		if in == i {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusNew             Status = "NEW"
	StatusClassified      Status = "CLASSIFIED"
	StatusNotified        Status = "NOTIFIED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusEdited          Status = "EDITED"
	StatusPosted          Status = "POSTED"
	StatusSkipped         Status = "SKIPPED"
	StatusFailed          Status = "FAILED"
)

var Statuses = []Status{
	StatusNew, StatusClassified, StatusNotified, StatusPendingApproval,
	StatusApproved, StatusEdited, StatusPosted, StatusSkipped, StatusFailed,
}

func ParseStatus(s string) (Status, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal statuses accept no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusPosted, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// Post is the raw forum content a candidate was built from.
type Post struct {
	Platform    string    `json:"platform"`
	ID          string    `json:"id"`
	Subreddit   string    `json:"subreddit"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	URL         string    `json:"url"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	CreatedAt   time.Time `json:"created_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func Fingerprint(platform, postID string) string {
	return strings.ToLower(strings.TrimSpace(platform)) + ":" + strings.TrimSpace(postID)
}

func (p Post) Fingerprint() string { return Fingerprint(p.Platform, p.ID) }

// Text is the lower-cased title and body used for keyword matching.
func (p Post) Text() string {
	return strings.ToLower(p.Title + " " + p.Body)
}

type HistoryEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
}

type Candidate struct {
	Fingerprint string         `json:"fingerprint"`
	Keyword     string         `json:"keyword"`
	Post        Post           `json:"post"`
	Intent      Intent         `json:"intent,omitempty"`
	Confidence  float64        `json:"confidence"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Score       float64        `json:"relevance_score"`
	Draft       string         `json:"draft_text,omitempty"`
	Status      Status         `json:"status"`
	History     []HistoryEntry `json:"status_history"`
	CommentID   string         `json:"comment_id,omitempty"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewCandidate builds the NEW record for a first sighting of p.
func NewCandidate(p Post, keyword, actor string, at time.Time) Candidate {
	at = at.UTC()
	return Candidate{
		Fingerprint: p.Fingerprint(),
		Keyword:     keyword,
		Post:        p,
		Status:      StatusNew,
		History:     []HistoryEntry{{Status: StatusNew, At: at, Actor: actor, Reason: "first seen"}},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Advance returns a copy of c moved to status to, with the history entry appended.
// The receiver is never modified.
func (c Candidate) Advance(to Status, actor, reason string, at time.Time) (Candidate, error) {
	if !CanTransition(c.Status, to) {
		return c, &StateConflictError{Fingerprint: c.Fingerprint, From: c.Status, To: to, Reason: "transition not allowed"}
	}
	at = at.UTC()
	next := c
	next.History = make([]HistoryEntry, len(c.History), len(c.History)+1)
	copy(next.History, c.History)
	next.History = append(next.History, HistoryEntry{Status: to, At: at, Actor: actor, Reason: reason})
	next.Status = to
	next.UpdatedAt = at
	return next, nil
}

func (c Candidate) LastEntry() HistoryEntry {
	if len(c.History) == 0 {
		return HistoryEntry{}
	}
	return c.History[len(c.History)-1]
}

// Reference time for ranking recency: when the post was created, else when it was fetched.
func (c Candidate) PostedAt() time.Time {
	if !c.Post.CreatedAt.IsZero() {
		return c.Post.CreatedAt
	}
	return c.Post.FetchedAt
}
