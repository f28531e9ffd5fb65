package httpapi

import (
	"net/http"
	"path/filepath"

	"radar-engine/internal/config"
)

type ConfigHandler struct {
	Config      config.Config
	UserCfgPath string
}

// Get returns the running configuration with credentials masked.
func (h ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, config.Redacted(h.Config))
}

func (h ConfigHandler) Path(w http.ResponseWriter, r *http.Request) {
	abs, _ := filepath.Abs(h.UserCfgPath)
	writeJSON(w, map[string]any{"path": abs})
}

func (h ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	_, vr := config.NormalizeAndValidate(h.Config)
	writeJSON(w, vr)
}
