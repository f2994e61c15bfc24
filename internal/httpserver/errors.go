package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"newsletter/internal/analytics"
	"newsletter/internal/domain"
)

const (
	ErrInvalidJSON   = "invalid json"
	ErrBadQuery      = "invalid query parameter"
	ErrInternal      = "internal error"
	ErrUnauthorized  = "unauthorized"
	ErrMissingOptIn  = "marketingOptIn is required"
	ErrMissingCampID = "campaignId is required"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrInvalidCampaign),
		errors.Is(err, domain.ErrDuplicateSend),
		errors.Is(err, analytics.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSubscriberNotFound),
		errors.Is(err, domain.ErrCampaignNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCampaignLocked),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError hides the detail of anything that maps to a 5xx.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		writeError(w, status, ErrInternal)
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}
