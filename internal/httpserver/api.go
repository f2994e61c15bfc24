package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"newsletter/internal/analytics"
	"newsletter/internal/campaign"
	"newsletter/internal/dispatch"
	"newsletter/internal/subscription"
)

type Dispatcher interface {
	Trigger(ctx context.Context, campaignID string) (dispatch.Outcome, error)
}

// Pages are the public site locations the confirm and unsubscribe links land on.
type Pages struct {
	SiteURL          string
	ConfirmedPath    string
	UnsubscribedPath string
}

func (p Pages) url(path string, already bool) string {
	u := strings.TrimRight(p.SiteURL, "/") + path
	if already {
		u += "?" + url.Values{"already": {"1"}}.Encode()
	}
	return u
}

type API struct {
	Registry   *subscription.Registry
	Campaigns  *campaign.Service
	Dispatcher Dispatcher
	Analytics  *analytics.Service
	Pages      Pages
	AdminToken string
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/newsletter/subscribe", a.handleSubscribe).Methods(http.MethodPost)
	r.HandleFunc("/api/newsletter/confirm", a.handleConfirm).Methods(http.MethodGet)
	r.HandleFunc("/api/newsletter/unsubscribe", a.handleUnsubscribe).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(AdminAuth(a.AdminToken))
	admin.HandleFunc("/campaigns/send", a.handleSend).Methods(http.MethodPost)
	admin.HandleFunc("/campaigns", a.handleListCampaigns).Methods(http.MethodGet)
	admin.HandleFunc("/campaigns", a.handleCreateCampaign).Methods(http.MethodPost)
	admin.HandleFunc("/campaigns/{id}", a.handleGetCampaign).Methods(http.MethodGet)
	admin.HandleFunc("/campaigns/{id}", a.handleUpdateCampaign).Methods(http.MethodPut)
	admin.HandleFunc("/campaigns/{id}", a.handleDeleteCampaign).Methods(http.MethodDelete)
	admin.HandleFunc("/campaigns/{id}/duplicate", a.handleDuplicateCampaign).Methods(http.MethodPost)
	admin.HandleFunc("/campaigns/{id}/analytics", a.handleCampaignAnalytics).Methods(http.MethodGet)
	admin.HandleFunc("/newsletter/stats", a.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/newsletter/preferences", a.handleSetPreference).Methods(http.MethodPut)
}
