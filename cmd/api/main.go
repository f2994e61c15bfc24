package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"newsletter/internal/analytics"
	"newsletter/internal/cache"
	"newsletter/internal/campaign"
	"newsletter/internal/config"
	"newsletter/internal/dispatch"
	"newsletter/internal/email"
	"newsletter/internal/httpserver"
	"newsletter/internal/links"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	"newsletter/internal/store/memory"
	"newsletter/internal/store/pg"
	"newsletter/internal/subscription"
	"newsletter/internal/tracking"
)

type appStore interface {
	subscription.Store
	campaign.Store
	dispatch.Store
	analytics.Store
	tracking.Store
	Ping(ctx context.Context) error
}

func main() {
	cfg := config.LoadAPI()
	logger := logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var st appStore
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on restart")
		st = memory.New()
	default:
		db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions())
		if err != nil {
			slog.Error("api db connect failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, db); err != nil {
				slog.Error("api migrate failed", "err", err)
				os.Exit(1)
			}
			slog.Info("schema migrated")
		}
		st = pg.New(db)
	}

	checks := []httpserver.ReadyzCheck{st.Ping}

	var statsCache analytics.Cache
	if cfg.RedisURL != "" {
		rc, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("api redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		statsCache = rc
		checks = append(checks, rc.Ping)
	}

	transport, err := email.NewTransport(cfg.EmailConfig.Options(logger))
	if err != nil {
		slog.Error("api email transport init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	lb := links.New(cfg.PublicBaseURL)
	registry := subscription.NewRegistry(st, &email.Mailer{Transport: transport}, lb)
	dispatcher := dispatch.New(st, registry, transport, lb).Configure(cfg.DispatchConfig.Options())

	s := httpserver.New(2*time.Second, checks...)
	api := &httpserver.API{
		Registry:   registry,
		Campaigns:  campaign.NewService(st),
		Dispatcher: dispatcher,
		Analytics:  analytics.NewService(st, statsCache, cfg.StatsCacheTTL),
		Pages: httpserver.Pages{
			SiteURL:          cfg.SiteURL,
			ConfirmedPath:    cfg.ConfirmedPagePath,
			UnsubscribedPath: cfg.UnsubscribedPagePath,
		},
		AdminToken: cfg.AdminAPIToken,
	}
	api.Register(s.Mux)
	tr := &httpserver.Tracking{Collector: tracking.NewCollector(st), FallbackURL: cfg.SiteURL}
	tr.Register(s.Mux)

	slog.Info("api listening", "port", cfg.Port, "store", cfg.StoreDriver, "email_provider", cfg.EmailProvider)
	if err := httpserver.ListenAndServe(ctx, ":"+cfg.Port, s.Handler()); err != nil {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
	slog.Info("api shutdown")
}
