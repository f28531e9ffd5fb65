package httpapi

import (
	"context"
	"net/http"

	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
)

// NewMux returns the raw mux; Handler wraps it with the middleware chain.
func NewMux(d Deps) *http.ServeMux {
	if d.Background == nil {
		d.Background = context.Background()
	}
	d.Log = logging.OrNop(d.Log)
	mux := http.NewServeMux()

	// Candidates
	ch := CandidatesHandler{Store: d.Store, Actions: d.Actions}
	mux.HandleFunc("/candidates", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.List,
	}))
	// /candidates/{fp} and /candidates/{fp}/{approve|skip|edit}
	mux.HandleFunc("/candidates/", ch.ByPath)
	mux.HandleFunc("/stats", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Stats,
	}))

	// Signed links from notifications
	if d.Tokens != nil && d.Actions != nil {
		ah := ActionsHandler{Tokens: d.Tokens, Actions: d.Actions, Store: d.Store}
		mux.HandleFunc("/actions", methodMux(map[string]http.HandlerFunc{
			http.MethodGet:  ah.Confirm,
			http.MethodPost: ah.Apply,
		}))
	}

	// Scan
	if d.Scanner != nil {
		sh := ScanHandler{Scanner: d.Scanner, Background: d.Background}
		mux.HandleFunc("/scan/status", methodMux(map[string]http.HandlerFunc{
			http.MethodGet: sh.Status,
		}))
		mux.HandleFunc("/scan/run", methodMux(map[string]http.HandlerFunc{
			http.MethodPost: sh.Run,
		}))
	}

	// Config (read-only; the process treats it as immutable)
	cfh := ConfigHandler{Config: d.Config, UserCfgPath: d.UserCfgPath}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: localOnly(cfh.Get),
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: localOnly(cfh.Path),
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: localOnly(cfh.Validate),
	}))

	// Secrets
	sec := SecretsHandler{Config: d.Config}
	mux.HandleFunc("/api/secrets/", methodMux(map[string]http.HandlerFunc{
		http.MethodPost:   localOnly(sec.Set),
		http.MethodDelete: localOnly(sec.Delete),
	}))

	if d.Checkpoint != nil {
		dbh := DBHandler{Checkpoint: d.Checkpoint}
		mux.HandleFunc("/db/checkpoint", methodMux(map[string]http.HandlerFunc{
			http.MethodPost: localOnly(dbh.Run),
		}))
	}

	// SSE events
	if d.Hub != nil {
		eh := EventsHandler{Hub: d.Hub}
		mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
			http.MethodGet: eh.ServeSSE,
		}))
	}

	hh := HealthHandler{Ping: d.Ping}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

// Handler is the mux behind the standard middleware chain.
func Handler(d Deps) http.Handler {
	log := logging.OrNop(d.Log).Named("http")
	return Chain(NewMux(d), Cors, RequestID, Recover(log), AccessLog(log))
}
