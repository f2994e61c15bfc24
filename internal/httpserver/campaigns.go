package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"newsletter/internal/campaign"
	"newsletter/internal/domain"
)

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		slog.Error(op+" failed", "err", err)
	}
	writeServiceError(w, err)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadQuery)
		return
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadQuery)
		return
	}
	out, err := a.Campaigns.List(r.Context(), r.URL.Query().Get("status"), page, size)
	if err != nil {
		a.fail(w, "list campaigns", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	c, err := a.Campaigns.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := a.Campaigns.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, "get campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	c, err := a.Campaigns.Update(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		a.fail(w, "update campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := a.Campaigns.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.fail(w, "delete campaign", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := a.Campaigns.Duplicate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, "duplicate campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type sendRequest struct {
	CampaignID string `json:"campaignId"`
}

type sendResponse struct {
	Message string                  `json:"message"`
	Status  domain.CampaignStatus   `json:"status"`
	Sent    int                     `json:"sentCount"`
	Errors  []domain.RecipientError `json:"errors"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingCampID)
		return
	}
	out, err := a.Dispatcher.Trigger(r.Context(), req.CampaignID)
	if err != nil {
		var fetchErr *domain.RecipientFetchError
		if errors.As(err, &fetchErr) {
			slog.Error("campaign left in sending, recipients unavailable", "campaign_id", req.CampaignID, "err", err)
		}
		a.fail(w, "send campaign", err)
		return
	}
	resp := sendResponse{
		Message: fmt.Sprintf("Campaign sent to %d subscribers", out.SentCount),
		Status:  out.Status,
		Sent:    out.SentCount,
		Errors:  out.Errors,
	}
	if len(out.Errors) > 0 {
		resp.Message = fmt.Sprintf("Campaign sent to %d subscribers, %d failed", out.SentCount, len(out.Errors))
	}
	if resp.Errors == nil {
		resp.Errors = []domain.RecipientError{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadQuery)
		return
	}
	report, err := a.Analytics.CampaignReport(r.Context(), mux.Vars(r)["id"], days)
	if err != nil {
		a.fail(w, "campaign analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadQuery)
		return
	}
	stats, err := a.Analytics.Stats(r.Context(), days)
	if err != nil {
		a.fail(w, "newsletter stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
