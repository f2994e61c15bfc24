package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"newsletter/internal/domain"
	"newsletter/internal/tracking"
)

// Tracking serves the endpoints embedded in outgoing mail. They never
// surface an error: the redirect or pixel is served even when the event
// could not be stored.
type Tracking struct {
	Collector *tracking.Collector
	// FallbackURL receives clicks whose target is not an http(s) URL.
	FallbackURL string
	// RecordTimeout bounds event persistence so a slow store cannot hold
	// the recipient's browser.
	RecordTimeout time.Duration
}

func (t *Tracking) Register(r *mux.Router) {
	r.HandleFunc("/api/track/click/{campaignId}/{subscriberId}", t.handleClick).Methods(http.MethodGet)
	r.HandleFunc("/api/track/open/{campaignId}/{subscriberId}", t.handleOpen).Methods(http.MethodGet, http.MethodHead)
}

func (t *Tracking) recordCtx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := t.RecordTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func logTrackingErr(kind, campaignID, subscriberID string, err error) {
	if errors.Is(err, domain.ErrSubscriberNotFound) || errors.Is(err, domain.ErrCampaignNotFound) {
		slog.Debug(kind+" for unknown campaign or subscriber", "err", err, "campaign_id", campaignID, "subscriber_id", subscriberID)
		return
	}
	slog.Error(kind+" not recorded", "err", err, "campaign_id", campaignID, "subscriber_id", subscriberID)
}

func (t *Tracking) handleClick(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	target := r.URL.Query().Get("url")

	ctx, cancel := t.recordCtx(r)
	err := t.Collector.RecordClick(ctx, vars["campaignId"], vars["subscriberId"], target)
	cancel()
	if err != nil {
		logTrackingErr("click", vars["campaignId"], vars["subscriberId"], err)
	}
	http.Redirect(w, r, tracking.RedirectTarget(target, t.FallbackURL), http.StatusFound)
}

func (t *Tracking) handleOpen(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ctx, cancel := t.recordCtx(r)
	err := t.Collector.RecordOpen(ctx, vars["campaignId"], vars["subscriberId"])
	cancel()
	if err != nil {
		logTrackingErr("open", vars["campaignId"], vars["subscriberId"], err)
	}

	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Length", strconv.Itoa(len(tracking.Pixel)))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(tracking.Pixel)
	}
}
