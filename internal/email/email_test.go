package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrevoTransportSendsJSON(t *testing.T) {
	var got brevoSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/smtp/email", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := &BrevoTransport{APIKey: "key-1", FromAddr: "news@x.com", FromName: "News", BaseURL: srv.URL}
	require.NoError(t, tr.Send(context.Background(), "a@x.com", "Hello", "<p>hi</p>"))
	assert.Equal(t, "news@x.com", got.Sender.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, "a@x.com", got.To[0].Email)
	assert.Equal(t, "<p>hi</p>", got.HTML)
}

func TestBrevoTransportRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := &BrevoTransport{BaseURL: srv.URL, Attempts: 3}
	require.NoError(t, tr.Send(context.Background(), "a@x.com", "s", "b"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBrevoTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := &BrevoTransport{BaseURL: srv.URL, Attempts: 3}
	err := tr.Send(context.Background(), "bad", "s", "b")
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusBadRequest, herr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConfirmationBodyEscapesAndLinks(t *testing.T) {
	body, err := ConfirmationBody(`<script>@x.com`, "https://n/confirm?token=a&b", "https://n/unsub")
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>@x.com")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	var hrefs []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		h, _ := s.Attr("href")
		hrefs = append(hrefs, h)
	})
	assert.Equal(t, []string{"https://n/confirm?token=a&b", "https://n/unsub"}, hrefs)
}

func TestAppendTrailer(t *testing.T) {
	assert.Equal(t, "<p>x</p>T", AppendTrailer("<p>x</p>", "T"))
	assert.Equal(t, "<html><BODY>x T</BODY></html>", AppendTrailer("<html><BODY>x </BODY></html>", "T"))
}

func TestCampaignTrailerHasPixel(t *testing.T) {
	trailer, err := CampaignTrailer("https://n/u?token=t&email=a", "https://n/api/track/open/c/s")
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trailer))
	require.NoError(t, err)
	src, ok := doc.Find("img").Attr("src")
	require.True(t, ok)
	assert.Equal(t, "https://n/api/track/open/c/s", src)
	assert.Equal(t, "1", doc.Find("img").AttrOr("width", ""))
}

func TestNewTransportSelectsProvider(t *testing.T) {
	tr, err := NewTransport(Options{Provider: "brevo", BrevoAPIKey: "k", FromAddr: "news@x.com"})
	require.NoError(t, err)
	assert.IsType(t, &BrevoTransport{}, tr)

	tr, err = NewTransport(Options{Provider: "SendGrid", SendGridAPIKey: "k", FromAddr: "news@x.com"})
	require.NoError(t, err)
	assert.IsType(t, &SendGridTransport{}, tr)

	tr, err = NewTransport(Options{})
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, tr)

	_, err = NewTransport(Options{Provider: "brevo"})
	assert.Error(t, err)
	_, err = NewTransport(Options{Provider: "pigeon"})
	assert.Error(t, err)
}
