package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"newsletter/internal/config"
	"newsletter/internal/httpserver"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	"newsletter/internal/store/pg"
	"newsletter/internal/tracking"
)

func main() {
	cfg := config.LoadTracker()
	logging.Init("tracker", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions())
	if err != nil {
		slog.Error("tracker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New(2*time.Second, st.Ping)
	tr := &httpserver.Tracking{
		Collector:     tracking.NewCollector(st),
		FallbackURL:   cfg.SiteURL,
		RecordTimeout: cfg.RecordTimeout,
	}
	tr.Register(s.Mux)

	slog.Info("tracker listening", "port", cfg.Port)
	if err := httpserver.ListenAndServe(ctx, ":"+cfg.Port, s.Handler()); err != nil {
		slog.Error("tracker server failed", "err", err)
		os.Exit(1)
	}
	slog.Info("tracker shutdown")
}
