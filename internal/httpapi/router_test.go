package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/approval"
	"radar-engine/internal/domain"
	"radar-engine/internal/notify"
	"radar-engine/internal/pipeline"
	"radar-engine/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type okReplier struct{ calls atomic.Int32 }

func (r *okReplier) SubmitReply(_ context.Context, postID, _ string) (string, error) {
	r.calls.Add(1)
	return "c_" + postID, nil
}

type fakeScanner struct {
	triggered atomic.Int32
	busy      atomic.Bool
}

func (f *fakeScanner) Trigger(context.Context) bool {
	if f.busy.Load() {
		return false
	}
	f.triggered.Add(1)
	return true
}

func (f *fakeScanner) Status() pipeline.Status {
	return pipeline.Status{CycleID: "cyc-1", LastError: "boom"}
}

type harness struct {
	srv     *httptest.Server
	db      *store.DB
	tokens  *approval.TokenSigner
	replier *okReplier
	scanner *fakeScanner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "radar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	h := &harness{db: db, replier: &okReplier{}, scanner: &fakeScanner{}}
	h.tokens, err = approval.NewTokenSigner("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	m := approval.NewMachine(db, h.replier, approval.Options{MaxAttempts: 1}, nil)
	h.srv = httptest.NewServer(Handler(Deps{
		Store:      db,
		Actions:    m,
		Tokens:     h.tokens,
		Scanner:    h.scanner,
		Ping:       db.Ping,
		Checkpoint: db.Checkpoint,
	}))
	t.Cleanup(h.srv.Close)
	return h
}

// pending stores a candidate waiting for approval.
func (h *harness) pending(t *testing.T, id string) domain.Candidate {
	t.Helper()
	ctx := context.Background()
	c := domain.NewCandidate(domain.Post{Platform: "reddit", ID: id, Subreddit: "saas", Title: "Which CRM?", CreatedAt: t0}, "crm", "pipeline", t0)
	_, err := h.db.Create(ctx, c)
	require.NoError(t, err)
	c, err = h.db.Update(ctx, c.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
		cur.Intent, cur.Confidence, cur.Score = domain.IntentHotLead, 0.9, 3
		return cur.Advance(domain.StatusClassified, "pipeline", "", t0.Add(time.Minute))
	})
	require.NoError(t, err)
	c, err = h.db.Update(ctx, c.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
		cur.Draft = "We use a shared inbox <3"
		return cur.Advance(domain.StatusPendingApproval, "pipeline", "", t0.Add(2*time.Minute))
	})
	require.NoError(t, err)
	return c
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, b
}

func candPath(fp string, rest ...string) string {
	return "/candidates/" + url.PathEscape(fp) + strings.Join(append([]string{""}, rest...), "/")
}

func errorCode(t *testing.T, b []byte) string {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(b, &e), string(b))
	return e.Error.Code
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t)
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	res, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "req-123", res.Header.Get("X-Request-ID"))
}

func TestListAndGetCandidates(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")

	res, b := h.do(t, http.MethodGet, "/candidates?status=pending_approval&limit=10", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []domain.Candidate
	require.NoError(t, json.Unmarshal(b, &list))
	require.Len(t, list, 1)
	assert.Equal(t, c.Fingerprint, list[0].Fingerprint)

	res, b = h.do(t, http.MethodGet, "/candidates?status=POSTED", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, string(b))

	res, b = h.do(t, http.MethodGet, "/candidates?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_status", errorCode(t, b))

	res, b = h.do(t, http.MethodGet, candPath(c.Fingerprint), "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got domain.Candidate
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	assert.Len(t, got.History, 3)

	res, b = h.do(t, http.MethodGet, candPath("reddit:missing"), "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, b))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.pending(t, "p1")
	h.pending(t, "p2")

	res, b := h.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"by_status":{"PENDING_APPROVAL":2},"total":2}`, string(b))
}

func TestApproveThenStaleSkipConflicts(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")

	res, b := h.do(t, http.MethodPost, candPath(c.Fingerprint, "approve"), "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(b))
	var got domain.Candidate
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, "api", got.History[len(got.History)-2].Actor)

	res, b = h.do(t, http.MethodPost, candPath(c.Fingerprint, "skip"), `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "already_handled", errorCode(t, b))
	assert.EqualValues(t, 1, h.replier.calls.Load())
}

func TestEditRequiresText(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")

	res, b := h.do(t, http.MethodPost, candPath(c.Fingerprint, "edit"), `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "empty_text", errorCode(t, b))

	res, b = h.do(t, http.MethodPost, candPath(c.Fingerprint, "edit"), `{"text":"Shorter reply.","actor":"sam"}`)
	require.Equal(t, http.StatusOK, res.StatusCode, string(b))
	var got domain.Candidate
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "Shorter reply.", got.Draft)
	assert.Equal(t, "api:sam", got.History[len(got.History)-2].Actor)
}

func TestUnknownActionAndMethod(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")

	res, _ := h.do(t, http.MethodPost, candPath(c.Fingerprint, "post"), "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = h.do(t, http.MethodGet, candPath(c.Fingerprint, "approve"), "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, _ = h.do(t, http.MethodDelete, "/candidates", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestSignedLinkConfirmsThenActs(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")
	tok, err := h.tokens.Issue(c.Fingerprint, notify.ActionApprove)
	require.NoError(t, err)

	res, b := h.do(t, http.MethodGet, "/actions?token="+url.QueryEscape(tok), "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := string(b)
	assert.Contains(t, page, "Post this reply")
	assert.Contains(t, page, "We use a shared inbox &lt;3")
	assert.Zero(t, h.replier.calls.Load(), "GET must not act")

	form := url.Values{"token": {tok}}
	res, err = h.srv.Client().PostForm(h.srv.URL+"/actions", form)
	require.NoError(t, err)
	b, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(b), "Posted ✅")

	got, err := h.db.Get(context.Background(), c.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, "link", got.History[len(got.History)-2].Actor)

	// replaying the link after the fact only reports
	res, b = h.do(t, http.MethodGet, "/actions?token="+url.QueryEscape(tok), "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(b), approval.AlreadyHandled)
	assert.NotContains(t, string(b), "<form")
}

func TestSignedEditLinkJSON(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")
	tok, err := h.tokens.Issue(c.Fingerprint, notify.ActionEdit)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/actions",
		strings.NewReader(url.Values{"token": {tok}, "text": {"Edited by hand."}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	res, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "POSTED", out["status"])
}

func TestInvalidTokenRejected(t *testing.T) {
	h := newHarness(t)

	res, _ := h.do(t, http.MethodGet, "/actions?token=garbage", "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/actions", strings.NewReader("token=garbage"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	res, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid_token", errorCode(t, b))
}

func TestScanTriggerAndStatus(t *testing.T) {
	h := newHarness(t)

	res, _ := h.do(t, http.MethodPost, "/scan/run", "")
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.EqualValues(t, 1, h.scanner.triggered.Load())

	h.scanner.busy.Store(true)
	res, _ = h.do(t, http.MethodPost, "/scan/run", "")
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, b := h.do(t, http.MethodGet, "/scan/status", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var st pipeline.Status
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, "cyc-1", st.CycleID)
	assert.Equal(t, "boom", st.LastError)
}

func TestLocalOnlyRoutes(t *testing.T) {
	h := newHarness(t)
	c := h.pending(t, "p1")
	mux := Handler(Deps{Store: h.db})

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, candPath(c.Fingerprint, "approve"), nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	res, _ := h.do(t, http.MethodPost, "/db/checkpoint", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestConfigIsRedacted(t *testing.T) {
	d := Deps{}
	d.Config.Forum.Username = "radarbot"
	d.Config.Forum.Password = "hunter2"
	srv := httptest.NewServer(Handler(d))
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL + "/config")
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(b), "radarbot")
	assert.NotContains(t, string(b), "hunter2")
}
