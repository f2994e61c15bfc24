package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/analytics"
	"newsletter/internal/campaign"
	"newsletter/internal/dispatch"
	"newsletter/internal/domain"
	"newsletter/internal/email"
	"newsletter/internal/links"
	"newsletter/internal/store/memory"
	"newsletter/internal/subscription"
	"newsletter/internal/tracking"
)

const adminToken = "s3cret"

type outbox struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func (o *outbox) Send(_ context.Context, to, _, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail[to] {
		return fmt.Errorf("mailbox unavailable")
	}
	o.sent[to] = append(o.sent[to], body)
	return nil
}

type harness struct {
	t     *testing.T
	store *memory.Store
	out   *outbox
	h     http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	out := &outbox{sent: map[string][]string{}, fail: map[string]bool{}}
	lb := links.New("http://news.test")

	reg := subscription.NewRegistry(st, &email.Mailer{Transport: out}, lb)
	n := 0
	reg.NewToken = func() (string, error) {
		n++
		return fmt.Sprintf("tok%d", n), nil
	}

	s := New(time.Second, st.Ping)
	api := &API{
		Registry:   reg,
		Campaigns:  campaign.NewService(st),
		Dispatcher: dispatch.New(st, reg, out, lb),
		Analytics:  analytics.NewService(st, nil, 0),
		Pages:      Pages{SiteURL: "https://site.test", ConfirmedPath: "/confirmed", UnsubscribedPath: "/bye"},
		AdminToken: adminToken,
	}
	api.Register(s.Mux)
	tr := &Tracking{Collector: tracking.NewCollector(st), FallbackURL: "https://site.test"}
	tr.Register(s.Mux)

	return &harness{t: t, store: st, out: out, h: s.Handler()}
}

func (h *harness) do(method, path, body string, admin bool) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// subscribeConfirmed walks the double opt-in. Tokens come in pairs per
// subscriber: confirm then unsubscribe.
func (h *harness) subscribeConfirmed(addr string, confirmToken string) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/newsletter/subscribe", `{"email":"`+addr+`"}`, false)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodGet, "/api/newsletter/confirm?token="+confirmToken, "", false)
	require.Equal(h.t, http.StatusFound, rec.Code, rec.Body.String())
}

func TestSubscribeConfirmUnsubscribeFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/newsletter/subscribe", `{"email":"not-an-email"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrInvalidEmail.Error(), decode[map[string]string](t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/newsletter/subscribe", `{"email":"A@X.com"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["message"])
	require.Len(t, h.out.sent["a@x.com"], 1)
	assert.Contains(t, h.out.sent["a@x.com"][0], "token=tok1")

	rec = h.do(http.MethodGet, "/api/newsletter/confirm?token=nope", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/newsletter/confirm?token=tok1", "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://site.test/confirmed", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, "/api/newsletter/confirm?token=tok1", "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://site.test/confirmed?already=1", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, "/api/newsletter/unsubscribe?token=wrong&email=a@x.com", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodGet, "/api/newsletter/unsubscribe?token=tok2&email=nobody@x.com", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/newsletter/unsubscribe?token=tok2&email=a%40x.com", "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://site.test/bye", rec.Header().Get("Location"))
	rec = h.do(http.MethodGet, "/api/newsletter/unsubscribe?token=tok2&email=a%40x.com", "", false)
	assert.Equal(t, "https://site.test/bye?already=1", rec.Header().Get("Location"))
}

func TestAdminRoutesRequireBearerToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/admin/campaigns", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/newsletter/stats", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/admin/campaigns", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthEmptyTokenLocksEverything(t *testing.T) {
	called := false
	h := AdminAuth("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestCampaignCRUDAndSend(t *testing.T) {
	h := newHarness(t)
	h.subscribeConfirmed("a@x.com", "tok1")
	h.subscribeConfirmed("b@x.com", "tok3")
	h.subscribeConfirmed("c@x.com", "tok5")
	h.out.fail["b@x.com"] = true

	rec := h.do(http.MethodPost, "/api/admin/campaigns", `{"subject":"Issue 1","content":"<p><a href=\"https://example.com/a\">read</a></p>"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[domain.Campaign](t, rec)
	assert.Equal(t, domain.StatusDraft, c.Status)

	rec = h.do(http.MethodPut, "/api/admin/campaigns/"+c.ID, `{"subject":"Issue 1!","content":"<p><a href=\"https://example.com/a\">read</a></p>"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Issue 1!", decode[domain.Campaign](t, rec).Subject)

	rec = h.do(http.MethodPost, "/api/admin/campaigns/send", `{"campaignId":"`+c.ID+`"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[sendResponse](t, rec)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	assert.Equal(t, 2, resp.Sent)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "b@x.com", resp.Errors[0].Email)

	rec = h.do(http.MethodPost, "/api/admin/campaigns/send", `{"campaignId":"`+c.ID+`"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/api/admin/campaigns/send", `{"campaignId":"cmp_missing"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodDelete, "/api/admin/campaigns/"+c.ID, "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/api/admin/campaigns/"+c.ID+"/duplicate", "", true)
	require.Equal(t, http.StatusCreated, rec.Code)
	dup := decode[domain.Campaign](t, rec)
	assert.Equal(t, "Issue 1! (copy)", dup.Subject)

	rec = h.do(http.MethodGet, "/api/admin/campaigns?status=draft&page=1&page_size=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[campaign.Page](t, rec)
	require.Len(t, page.Data, 1)
	assert.Equal(t, dup.ID, page.Data[0].ID)
	assert.Equal(t, 1, page.Pagination.TotalPages)

	rec = h.do(http.MethodGet, "/api/admin/campaigns?page=x", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodDelete, "/api/admin/campaigns/"+dup.ID, "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, "/api/admin/campaigns/"+dup.ID, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackingEndpointsFeedAnalytics(t *testing.T) {
	h := newHarness(t)
	h.subscribeConfirmed("a@x.com", "tok1")
	sub, found, err := h.store.GetSubscriberByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.True(t, found)

	rec := h.do(http.MethodPost, "/api/admin/campaigns", `{"subject":"S","content":"c"}`, true)
	c := decode[domain.Campaign](t, rec)
	rec = h.do(http.MethodPost, "/api/admin/campaigns/send", `{"campaignId":"`+c.ID+`"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	lb := links.New("")
	target := "https://example.com/a?b=1&c=2"
	rec = h.do(http.MethodGet, lb.ClickURL(c.ID, sub.ID, target), "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, target, rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, lb.ClickURL(c.ID, sub.ID, "javascript:alert(1)"), "", false)
	assert.Equal(t, "https://site.test", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, lb.ClickURL(c.ID, "sub_unknown", target), "", false)
	assert.Equal(t, http.StatusFound, rec.Code, "unknown subscribers still get redirected")

	rec = h.do(http.MethodGet, lb.ClickURL("cmp_forged", sub.ID, target), "", false)
	assert.Equal(t, http.StatusFound, rec.Code, "unknown campaigns still get redirected")
	rec = h.do(http.MethodGet, lb.OpenURL("cmp_forged", sub.ID), "", false)
	assert.Equal(t, tracking.Pixel, rec.Body.Bytes())
	forged, err := h.store.ListCampaignEvents(context.Background(), "cmp_forged")
	require.NoError(t, err)
	assert.Empty(t, forged)

	for i := 0; i < 2; i++ {
		rec = h.do(http.MethodGet, lb.OpenURL(c.ID, sub.ID), "", false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
		assert.Equal(t, tracking.Pixel, rec.Body.Bytes())
	}

	rec = h.do(http.MethodGet, "/api/admin/campaigns/"+c.ID+"/analytics?days=7", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[analytics.CampaignReport](t, rec)
	assert.Equal(t, 1, report.SentCount)
	assert.Equal(t, 2, report.Opens)
	assert.Equal(t, 1, report.UniqueOpens)
	assert.Equal(t, 2, report.Clicks)
	assert.Equal(t, 1.0, report.OpenRate)
	assert.Len(t, report.Timeline, 7)

	rec = h.do(http.MethodGet, "/api/admin/campaigns/"+c.ID+"/analytics?days=400", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndPreferences(t *testing.T) {
	h := newHarness(t)
	h.subscribeConfirmed("a@x.com", "tok1")
	rec := h.do(http.MethodPost, "/api/newsletter/subscribe", `{"email":"b@x.com"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/admin/newsletter/stats?days=7", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[analytics.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, stats.Unconfirmed)
	assert.Len(t, stats.Trends.NewSubscribers, 7)

	rec = h.do(http.MethodPut, "/api/admin/newsletter/preferences", `{"email":"a@x.com"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPut, "/api/admin/newsletter/preferences", `{"email":"a@x.com","marketingOptIn":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	recipients, err := h.store.ListEligibleRecipients(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recipients)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", false).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "", false).Code)

	failing := Readyz(time.Second, func(context.Context) error { return assert.AnError })
	rec := httptest.NewRecorder()
	failing(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidEmail, http.StatusBadRequest},
		{domain.ErrDuplicateSend, http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrInvalidCampaign), http.StatusBadRequest},
		{domain.ErrCampaignNotFound, http.StatusNotFound},
		{domain.ErrCampaignLocked, http.StatusConflict},
		{&domain.RecipientFetchError{Err: assert.AnError}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
