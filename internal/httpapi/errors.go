package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"radar-engine/internal/approval"
	"radar-engine/internal/domain"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// statusFor maps domain errors onto HTTP statuses and stable error codes.
func statusFor(err error) (int, string) {
	var pe *approval.PostError
	switch {
	case domain.IsStateConflict(err):
		return http.StatusConflict, "already_handled"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, approval.ErrInvalidToken):
		return http.StatusForbidden, "invalid_token"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "post_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	WriteError(w, r, status, code, err.Error())
}
