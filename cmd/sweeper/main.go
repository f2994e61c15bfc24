package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"newsletter/internal/awsutil"
	"newsletter/internal/config"
	"newsletter/internal/dispatch"
	"newsletter/internal/email"
	"newsletter/internal/httpserver"
	"newsletter/internal/links"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	sqsqueue "newsletter/internal/queue/sqs"
	"newsletter/internal/store/pg"
	"newsletter/internal/subscription"
	"newsletter/internal/sweep"
)

func main() {
	cfg := config.LoadSweeper()
	logger := logging.Init("sweeper", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions())
	if err != nil {
		slog.Error("sweeper db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	sw := &sweep.Sweeper{Store: st}
	switch cfg.SweepMode {
	case "queue":
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("sweeper sqs client init failed", "err", err)
			os.Exit(1)
		}
		sw.Enqueuer = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL, FIFO: cfg.SQSFIFO}
	default:
		transport, err := email.NewTransport(cfg.EmailConfig.Options(logger))
		if err != nil {
			slog.Error("sweeper email transport init failed", "err", err)
			os.Exit(1)
		}
		lb := links.New(cfg.PublicBaseURL)
		registry := subscription.NewRegistry(st, &email.Mailer{Transport: transport}, lb)
		sw.Trigger = dispatch.New(st, registry, transport, lb).Configure(cfg.DispatchConfig.Options())
	}

	if cfg.SweepOnce {
		if _, err := sw.Run(ctx); err != nil {
			slog.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		if _, err := sw.Run(ctx); err != nil {
			slog.Error("sweep failed", "err", err)
		}
	}); err != nil {
		slog.Error("invalid SWEEP_SCHEDULE", "schedule", cfg.SweepSchedule, "err", err)
		os.Exit(1)
	}
	c.Start()
	slog.Info("sweeper scheduled", "schedule", cfg.SweepSchedule, "mode", cfg.SweepMode)

	health := httpserver.New(2*time.Second, st.Ping)
	if err := httpserver.ListenAndServe(ctx, ":"+cfg.Port, health.Handler()); err != nil {
		slog.Error("sweeper health server failed", "err", err)
	}

	// wait for an in-flight sweep to finish
	<-c.Stop().Done()
	slog.Info("sweeper shutdown")
}
