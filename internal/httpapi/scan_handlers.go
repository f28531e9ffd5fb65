package httpapi

import (
	"context"
	"net/http"
)

type ScanHandler struct {
	Scanner    Scanner
	Background context.Context
}

func (h ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Scanner.Status())
}

func (h ScanHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.Scanner.Trigger(h.Background) {
		WriteJSON(w, http.StatusConflict, map[string]any{"ok": false, "msg": "already running"})
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
