package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"radar-engine/internal/domain"
	"radar-engine/internal/forum"
)

const Platform = "reddit"

type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	BaseURL      string // https://oauth.reddit.com
	AuthURL      string // https://www.reddit.com/api/v1/access_token

	RequestsPerMinute int
	MinCommentGap     time.Duration
	Timeout           time.Duration
}

type Client struct {
	cfg      Config
	hc       *http.Client
	limiter  *forum.HostLimiter
	comments *forum.Gap
	now      func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

var _ forum.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:      cfg,
		hc:       &http.Client{Timeout: cfg.Timeout},
		limiter:  forum.PerMinute(cfg.RequestsPerMinute),
		comments: forum.NewGap(cfg.MinCommentGap),
		now:      time.Now,
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Data postData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postData struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHTML string  `json:"selftext_html"`
	Author       string  `json:"author"`
	Subreddit    string  `json:"subreddit"`
	Permalink    string  `json:"permalink"`
	Score        int     `json:"score"`
	NumComments  int     `json:"num_comments"`
	CreatedUTC   float64 `json:"created_utc"`
	Locked       bool    `json:"locked"`
	Archived     bool    `json:"archived"`
}

// Search queries one subreddit for keyword, newest first, and drops posts older than since.
func (c *Client) Search(ctx context.Context, keyword, subreddit string, since time.Time) ([]domain.Post, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("restrict_sr", "1")
	q.Set("sort", "new")
	q.Set("t", timeFilter(c.now().Sub(since)))
	q.Set("limit", "100")
	q.Set("raw_json", "1")
	endpoint := fmt.Sprintf("%s/r/%s/search?%s", c.cfg.BaseURL, url.PathEscape(subreddit), q.Encode())

	var l listing
	if err := c.do(ctx, "reddit search", http.MethodGet, endpoint, nil, &l); err != nil {
		return nil, err
	}

	fetched := c.now().UTC()
	var out []domain.Post
	for _, ch := range l.Data.Children {
		d := ch.Data
		created := time.Unix(int64(d.CreatedUTC), 0).UTC()
		if !since.IsZero() && created.Before(since) {
			continue
		}
		if d.Locked || d.Archived {
			continue
		}
		body := d.Selftext
		if d.SelftextHTML != "" {
			if txt := htmlText(d.SelftextHTML); txt != "" {
				body = txt
			}
		}
		sub := d.Subreddit
		if sub == "" {
			sub = subreddit
		}
		out = append(out, domain.Post{
			Platform:    Platform,
			ID:          d.ID,
			Subreddit:   strings.ToLower(sub),
			Title:       strings.TrimSpace(d.Title),
			Body:        body,
			Author:      d.Author,
			URL:         "https://www.reddit.com" + d.Permalink,
			Score:       d.Score,
			NumComments: d.NumComments,
			CreatedAt:   created,
			FetchedAt:   fetched,
		})
	}
	return out, nil
}

type commentResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []struct {
				Data struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// SubmitReply comments on a post. Consecutive comments are spaced by MinCommentGap.
func (c *Client) SubmitReply(ctx context.Context, postID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("reply text is empty")
	}
	if err := c.comments.Wait(ctx); err != nil {
		return "", err
	}

	thing := postID
	if !strings.HasPrefix(thing, "t3_") && !strings.HasPrefix(thing, "t1_") {
		thing = "t3_" + thing
	}
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", thing)
	form.Set("text", text)

	var resp commentResponse
	err := c.do(ctx, "reddit comment", http.MethodPost, c.cfg.BaseURL+"/api/comment", form, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusForbidden {
			return "", &forum.ConflictError{PostID: postID, Reason: "forbidden"}
		}
		return "", err
	}

	if len(resp.JSON.Errors) > 0 {
		return "", commentError(postID, resp.JSON.Errors[0])
	}
	if len(resp.JSON.Data.Things) == 0 {
		return "", errors.New("reddit comment: empty response")
	}
	return resp.JSON.Data.Things[0].Data.ID, nil
}

var closedReasons = map[string]bool{
	"THREAD_LOCKED":        true,
	"TOO_OLD":              true,
	"DELETED_LINK":         true,
	"DELETED_COMMENT":      true,
	"ARCHIVED":             true,
	"SUBREDDIT_NOTALLOWED": true,
}

var waitRe = regexp.MustCompile(`(\d+)\s*(second|minute)`)

func commentError(postID string, e []any) error {
	code, msg := "", ""
	if len(e) > 0 {
		code, _ = e[0].(string)
	}
	if len(e) > 1 {
		msg, _ = e[1].(string)
	}
	switch {
	case code == "RATELIMIT":
		rl := &forum.RateLimitError{Op: "reddit comment"}
		if m := waitRe.FindStringSubmatch(msg); m != nil {
			n, _ := strconv.Atoi(m[1])
			unit := time.Second
			if m[2] == "minute" {
				unit = time.Minute
			}
			rl.RetryAfter = time.Duration(n) * unit
		}
		return rl
	case closedReasons[code]:
		return &forum.ConflictError{PostID: postID, Reason: strings.ToLower(code)}
	}
	return fmt.Errorf("reddit comment: %s: %s", code, msg)
}

type statusError struct {
	op   string
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.op, e.code, e.body)
}

// do sends an authenticated request, refreshing the token once on 401.
func (c *Client) do(ctx context.Context, op, method, endpoint string, form url.Values, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.accessToken(ctx, attempt > 0)
		if err != nil {
			return err
		}
		if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
			return err
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "bearer "+tok)
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		res, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.TransientError{Op: op, Err: err}
		}
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
		_ = res.Body.Close()

		switch {
		case res.StatusCode == http.StatusUnauthorized && attempt == 0:
			continue
		case res.StatusCode == http.StatusTooManyRequests:
			return &forum.RateLimitError{Op: op, RetryAfter: retryAfter(res.Header)}
		case res.StatusCode >= 500:
			return &domain.TransientError{Op: op, Err: fmt.Errorf("status %d", res.StatusCode)}
		case res.StatusCode >= 400:
			return &statusError{op: op, code: res.StatusCode, body: truncate(string(b), 200)}
		}

		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("%s: decode: %w", op, err)
		}
		return nil
	}
	return &statusError{op: op, code: http.StatusUnauthorized, body: "token rejected"}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

func (c *Client) accessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	if err := c.limiter.WaitURL(ctx, c.cfg.AuthURL); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.hc.Do(req)
	if err != nil {
		return "", &domain.TransientError{Op: "reddit auth", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return "", &forum.RateLimitError{Op: "reddit auth", RetryAfter: retryAfter(res.Header)}
	}
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("reddit auth: status %d", res.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("reddit auth: decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("reddit auth: %s", tr.Error)
	}

	c.token = tr.AccessToken
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.tokenExp = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

func retryAfter(h http.Header) time.Duration {
	for _, k := range []string{"Retry-After", "X-Ratelimit-Reset"} {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return time.Duration(f * float64(time.Second))
			}
		}
	}
	return 0
}

// timeFilter picks the narrowest reddit "t" window covering d.
func timeFilter(d time.Duration) string {
	switch {
	case d <= time.Hour:
		return "hour"
	case d <= 24*time.Hour:
		return "day"
	case d <= 7*24*time.Hour:
		return "week"
	case d <= 31*24*time.Hour:
		return "month"
	case d <= 366*24*time.Hour:
		return "year"
	}
	return "all"
}

func htmlText(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("p, li, pre, blockquote, h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
