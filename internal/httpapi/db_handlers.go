package httpapi

import (
	"context"
	"net/http"
)

type DBHandler struct {
	Checkpoint func(ctx context.Context) error
}

func (h DBHandler) Run(w http.ResponseWriter, r *http.Request) {
	if err := h.Checkpoint(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
