package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"newsletter/internal/awsutil"
	"newsletter/internal/config"
	"newsletter/internal/dispatch"
	"newsletter/internal/domain"
	"newsletter/internal/email"
	"newsletter/internal/httpserver"
	"newsletter/internal/links"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	sqsqueue "newsletter/internal/queue/sqs"
	"newsletter/internal/store/pg"
	"newsletter/internal/subscription"
)

func main() {
	cfg := config.LoadWorker()
	logger := logging.Init("worker", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions())
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}
	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	transport, err := email.NewTransport(cfg.EmailConfig.Options(logger))
	if err != nil {
		slog.Error("worker email transport init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	lb := links.New(cfg.PublicBaseURL)
	registry := subscription.NewRegistry(st, &email.Mailer{Transport: transport}, lb)
	dispatcher := dispatch.New(st, registry, transport, lb).Configure(cfg.DispatchConfig.Options())

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness + metrics)
	health := httpserver.New(2*time.Second, st.Ping, queueReachable)
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- httpserver.ListenAndServe(ctx, ":"+cfg.Port, health.Handler())
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, job sqsqueue.DispatchJob) error {
			return handleJob(ctx, dispatcher, job)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	select {
	case <-pollErrCh:
	case <-time.After(30 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
}

// handleJob returns an error only when a retry could succeed. A campaign
// that is already claimed, gone, or stuck without recipients is acked.
func handleJob(ctx context.Context, d *dispatch.Dispatcher, job sqsqueue.DispatchJob) error {
	start := time.Now()
	out, err := d.Trigger(ctx, job.CampaignID)
	var fetchErr *domain.RecipientFetchError
	switch {
	case err == nil:
		slog.Info("worker job finish",
			"campaign_id", job.CampaignID,
			"status", out.Status,
			"sent", out.SentCount,
			"failed", len(out.Errors),
			"duration", time.Since(start),
		)
		return nil
	case errors.Is(err, domain.ErrDuplicateSend), errors.Is(err, domain.ErrCampaignNotFound):
		slog.Info("worker job skipped", "campaign_id", job.CampaignID, "reason", err)
		return nil
	case errors.As(err, &fetchErr), errors.Is(err, domain.ErrInvalidTransition):
		slog.Error("worker job needs operator attention", "campaign_id", job.CampaignID, "err", err)
		return nil
	default:
		return err
	}
}
