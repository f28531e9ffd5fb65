package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/zalando/go-keyring"

	"radar-engine/internal/config"
	"radar-engine/internal/secrets"
)

// SecretsHandler stores credentials in the OS keychain. They are picked up
// on the next start; the running process keeps its config.
type SecretsHandler struct {
	Config config.Config
}

type setSecretReq struct {
	Secret string `json:"secret"`
}

func (h SecretsHandler) kind(w http.ResponseWriter, r *http.Request) (secrets.Kind, bool) {
	k, err := secrets.ParseKind(strings.TrimPrefix(r.URL.Path, "/api/secrets/"))
	if err != nil {
		WriteError(w, r, http.StatusNotFound, "unknown_kind", err.Error())
		return "", false
	}
	return k, true
}

// Set handles POST /api/secrets/{kind}.
func (h SecretsHandler) Set(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}
	var req setSecretReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if err := secrets.Set(secrets.Account(h.Config, k), req.Secret); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring", "failed to store secret: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}
	err := secrets.Delete(secrets.Account(h.Config, k))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		WriteError(w, r, http.StatusInternalServerError, "keyring", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
