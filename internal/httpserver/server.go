package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsletter/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with request metrics and the health endpoints.
func New(readyTimeout time.Duration, checks ...ReadyzCheck) *Server {
	r := mux.NewRouter()
	r.Use(Metrics(observability.APIRequests))
	r.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", Readyz(readyTimeout, checks...)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &Server{Mux: r}
}

// Handler wraps the router with request logging.
func (s *Server) Handler() http.Handler {
	return Logging(s.Mux)
}

// ListenAndServe serves until ctx is canceled, then drains for up to 10s.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
