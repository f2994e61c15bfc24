package httpserver

import (
	"log/slog"
	"net/http"

	"newsletter/internal/subscription"
)

type subscribeRequest struct {
	Email string `json:"email"`
}

var subscribeMessages = map[subscription.Outcome]string{
	subscription.Created:     "Please check your email to confirm your subscription.",
	subscription.Resent:      "A new confirmation email has been sent.",
	subscription.Reactivated: "Welcome back! You have been resubscribed.",
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	out, err := a.Registry.Subscribe(r.Context(), req.Email)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error("subscribe failed", "err", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": subscribeMessages[out]})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	already, err := a.Registry.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error("confirm failed", "err", err)
		}
		writeServiceError(w, err)
		return
	}
	http.Redirect(w, r, a.Pages.url(a.Pages.ConfirmedPath, already), http.StatusFound)
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	already, err := a.Registry.Unsubscribe(r.Context(), q.Get("token"), q.Get("email"))
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error("unsubscribe failed", "err", err)
		}
		writeServiceError(w, err)
		return
	}
	http.Redirect(w, r, a.Pages.url(a.Pages.UnsubscribedPath, already), http.StatusFound)
}

type preferenceRequest struct {
	Email          string `json:"email"`
	MarketingOptIn *bool  `json:"marketingOptIn"`
}

func (a *API) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.MarketingOptIn == nil {
		writeError(w, http.StatusBadRequest, ErrMissingOptIn)
		return
	}
	if err := a.Registry.SetMarketingPreference(r.Context(), req.Email, *req.MarketingOptIn); err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error("set marketing preference failed", "err", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": req.Email, "marketingOptIn": *req.MarketingOptIn})
}
