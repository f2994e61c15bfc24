// Command mock-provider imitates the Brevo transactional email API so the
// dispatcher's failure handling can be exercised locally.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"newsletter/internal/config"
	"newsletter/internal/httpserver"
	"newsletter/internal/logging"
)

type sendRequest struct {
	Sender  contact   `json:"sender"`
	To      []contact `json:"to"`
	Subject string    `json:"subject"`
	HTML    string    `json:"htmlContent"`
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type server struct {
	cfg   config.MockProviderConfig
	idx   uint64
	sent  uint64
	rng   *rand.Rand
	rngMu sync.Mutex
}

func main() {
	cfg := config.LoadMockProvider()
	logging.Init("mock-provider", cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := newServer(cfg)
	slog.Info("mock provider listening", "port", cfg.Port, "mode", s.cfg.OutcomeMode, "outcomes", s.cfg.Outcomes)
	if err := httpserver.ListenAndServe(ctx, ":"+cfg.Port, httpserver.Logging(s.routes())); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func newServer(cfg config.MockProviderConfig) *server {
	cfg.OutcomeMode = strings.ToLower(strings.TrimSpace(cfg.OutcomeMode))
	cfg.Outcomes = parseList(cfg.Outcomes)
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	for i, e := range cfg.FailEmails {
		cfg.FailEmails[i] = strings.ToLower(strings.TrimSpace(e))
	}
	return &server{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v3/smtp/email", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api-key") != s.cfg.APIKey {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "unauthorized", Message: "Key not found"})
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "Invalid JSON"})
		return
	}
	if len(req.To) == 0 || req.To[0].Email == "" || req.Sender.Email == "" || req.Subject == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "missing_parameter", Message: "sender, to and subject are required"})
		return
	}

	if s.cfg.DelayMs > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Duration(s.cfg.DelayMs) * time.Millisecond):
		}
	}

	outcome := "bad_request"
	if !slices.Contains(s.cfg.FailEmails, strings.ToLower(req.To[0].Email)) {
		outcome = s.nextOutcome()
	}
	status, code := classifyOutcome(outcome)
	if status != http.StatusCreated {
		slog.Info("mock send rejected", "to", req.To[0].Email, "outcome", outcome, "status", status)
		writeJSON(w, status, errorResponse{Code: code, Message: "mock outcome " + outcome})
		return
	}

	n := atomic.AddUint64(&s.sent, 1)
	writeJSON(w, http.StatusCreated, sendResponse{MessageID: fmt.Sprintf("<mock.%06d@smtp-relay.mailin.fr>", n)})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"sent": atomic.LoadUint64(&s.sent)})
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx%uint64(len(s.cfg.Outcomes)))]
	case "random":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

// classifyOutcome maps an outcome token to the status Brevo would answer with.
func classifyOutcome(raw string) (status int, code string) {
	switch strings.TrimSpace(raw) {
	case "", "ok", "success":
		return http.StatusCreated, ""
	case "rate_limit", "429":
		return http.StatusTooManyRequests, "too_many_requests"
	case "bad_request", "400":
		return http.StatusBadRequest, "invalid_parameter"
	case "unauthorized", "401":
		return http.StatusUnauthorized, "unauthorized"
	case "server_error", "500":
		return http.StatusInternalServerError, "internal_error"
	case "unavailable", "503":
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
