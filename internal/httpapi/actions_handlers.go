package httpapi

import (
	"html/template"
	"net/http"
	"strings"

	"radar-engine/internal/approval"
	"radar-engine/internal/domain"
	"radar-engine/internal/notify"
)

// ActionsHandler serves the signed links in webhook and email notifications.
// GET only renders a confirmation form, so link previews and mail scanners
// cannot act; the form POSTs back with the same token.
type ActionsHandler struct {
	Tokens  TokenVerifier
	Actions Actions
	Store   CandidateStore
}

var actionPage = template.Must(template.New("action").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Radar</title></head>
<body style="font-family:sans-serif;max-width:40em;margin:2em auto">
{{if .Outcome}}<h2>{{.Outcome}}</h2>{{end}}
{{with .Candidate}}<p><b>[{{.Intent}}]</b> r/{{.Post.Subreddit}}: <a href="{{.Post.URL}}">{{.Post.Title}}</a></p>{{end}}
{{if .Form}}<form method="post" action="/actions">
<input type="hidden" name="token" value="{{.Token}}">
{{if eq .Action "edit"}}<textarea name="text" rows="10" style="width:100%">{{.Candidate.Draft}}</textarea>
{{else if .Candidate.Draft}}<pre style="white-space:pre-wrap">{{.Candidate.Draft}}</pre>{{end}}
<button type="submit">{{.Label}}</button>
</form>{{end}}
</body></html>`))

type actionView struct {
	Candidate *domain.Candidate
	Token     string
	Action    string
	Label     string
	Outcome   string
	Form      bool
}

var actionLabels = map[string]string{
	notify.ActionApprove: "Post this reply",
	notify.ActionEdit:    "Post edited reply",
	notify.ActionSkip:    "Skip this post",
}

func (h ActionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	fp, action, err := h.Tokens.Verify(token)
	if err != nil {
		h.render(w, r, http.StatusForbidden, actionView{Outcome: "This link is invalid or has expired."})
		return
	}
	c, err := h.Store.Get(r.Context(), fp)
	if err != nil {
		status, _ := statusFor(err)
		h.render(w, r, status, actionView{Outcome: approval.Describe(c, err)})
		return
	}
	v := actionView{Candidate: &c, Token: token, Action: action, Label: actionLabels[action], Form: true}
	if c.Status != domain.StatusPendingApproval {
		v.Form, v.Outcome = false, approval.AlreadyHandled+" ("+string(c.Status)+")"
	}
	h.render(w, r, http.StatusOK, v)
}

func (h ActionsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_form", err.Error())
		return
	}
	token := strings.TrimSpace(r.PostForm.Get("token"))
	fp, action, err := h.Tokens.Verify(token)
	if err != nil {
		h.respond(w, r, domain.Candidate{}, err)
		return
	}
	text := r.PostForm.Get("text")
	if action == notify.ActionEdit && strings.TrimSpace(text) == "" {
		WriteError(w, r, http.StatusBadRequest, "empty_text", "edit requires non-empty text")
		return
	}
	if action != notify.ActionEdit {
		text = ""
	}

	c, err := h.Actions.Do(r.Context(), action, fp, "link", text)
	h.respond(w, r, c, err)
}

// respond answers browsers with a page and API clients with JSON.
func (h ActionsHandler) respond(w http.ResponseWriter, r *http.Request, c domain.Candidate, err error) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"fingerprint": c.Fingerprint, "status": c.Status, "outcome": approval.Describe(c, err)})
		return
	}
	status := http.StatusOK
	if err != nil {
		status, _ = statusFor(err)
	}
	v := actionView{Outcome: approval.Describe(c, err)}
	if c.Fingerprint != "" {
		v.Candidate = &c
	}
	h.render(w, r, status, v)
}

func (h ActionsHandler) render(w http.ResponseWriter, r *http.Request, status int, v actionView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = actionPage.Execute(w, v)
}
