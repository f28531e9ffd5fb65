package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"radar-engine/internal/domain"
	"radar-engine/internal/notify"
	"radar-engine/internal/store"
)

type CandidatesHandler struct {
	Store   CandidateStore
	Actions Actions
}

// List serves GET /candidates?status=PENDING_APPROVAL,NOTIFIED&intent=HOT_LEAD&limit=50.
func (h CandidatesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Limit: intParam(r, "limit", 100, 1000)}
	for _, s := range splitList(q.Get("status")) {
		st, ok := domain.ParseStatus(s)
		if !ok {
			WriteError(w, r, http.StatusBadRequest, "bad_status", "unknown status "+s)
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(q.Get("intent")) {
		in, ok := domain.ParseIntent(s)
		if !ok {
			WriteError(w, r, http.StatusBadRequest, "bad_intent", "unknown intent "+s)
			return
		}
		f.Intents = append(f.Intents, in)
	}

	out, err := h.Store.List(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if out == nil {
		out = []domain.Candidate{}
	}
	writeJSON(w, out)
}

func (h CandidatesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.Stats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, map[string]any{"by_status": counts, "total": total})
}

// ByPath routes /candidates/{fp} and /candidates/{fp}/{action}.
func (h CandidatesHandler) ByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), "/candidates/"), "/")
	raw, action, _ := strings.Cut(rest, "/")
	fp, err := url.PathUnescape(raw)
	if err != nil || fp == "" {
		WriteError(w, r, http.StatusBadRequest, "bad_fingerprint", "invalid fingerprint")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.get(w, r, fp)
	case action == "":
		WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	case r.Method != http.MethodPost:
		WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	default:
		localOnly(func(w http.ResponseWriter, r *http.Request) { h.act(w, r, fp, action) })(w, r)
	}
}

func (h CandidatesHandler) get(w http.ResponseWriter, r *http.Request, fp string) {
	c, err := h.Store.Get(r.Context(), fp)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, c)
}

type actionReq struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (h CandidatesHandler) act(w http.ResponseWriter, r *http.Request, fp, action string) {
	switch action {
	case notify.ActionApprove, notify.ActionEdit, notify.ActionSkip:
	default:
		WriteError(w, r, http.StatusNotFound, "not_found", "unknown action "+action)
		return
	}
	if h.Actions == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "approval is not configured")
		return
	}

	var req actionReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_json", "invalid JSON: "+err.Error())
			return
		}
	}
	text := req.Reason
	if action == notify.ActionEdit {
		if strings.TrimSpace(req.Text) == "" {
			WriteError(w, r, http.StatusBadRequest, "empty_text", "edit requires non-empty text")
			return
		}
		text = req.Text
	}
	actor := "api"
	if a := strings.TrimSpace(req.Actor); a != "" {
		actor = "api:" + a
	}

	c, err := h.Actions.Do(r.Context(), action, fp, actor, text)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, c)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
