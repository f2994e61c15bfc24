// Package sweep finds scheduled campaigns whose time has come and starts
// their dispatch, either in-process or by enqueueing a job for the worker.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"newsletter/internal/dispatch"
	"newsletter/internal/domain"
	"newsletter/internal/observability"
	sqsqueue "newsletter/internal/queue/sqs"
	"newsletter/internal/util"
)

type Store interface {
	ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
}

type Trigger interface {
	Trigger(ctx context.Context, campaignID string) (dispatch.Outcome, error)
}

type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, job sqsqueue.DispatchJob) error
}

type Result struct {
	Due       int
	Triggered int
	Skipped   int
	Failed    int
}

// Sweeper uses Enqueuer when set, Trigger otherwise.
type Sweeper struct {
	Store    Store
	Trigger  Trigger
	Enqueuer Enqueuer
	Now      func() time.Time
}

func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	now := util.NowUTC
	if s.Now != nil {
		now = s.Now
	}
	at := now()
	due, err := s.Store.ListDueCampaigns(ctx, at)
	if err != nil {
		observability.Sweeps.WithLabelValues("list_error").Inc()
		return Result{}, err
	}

	res := Result{Due: len(due)}
	for _, c := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := s.start(ctx, c, at)
		switch {
		case err == nil:
			res.Triggered++
			observability.Sweeps.WithLabelValues("triggered").Inc()
		case errors.Is(err, domain.ErrDuplicateSend), errors.Is(err, domain.ErrCampaignNotFound):
			// another trigger got there first
			res.Skipped++
			observability.Sweeps.WithLabelValues("skipped").Inc()
			slog.Info("sweep skipped campaign", "campaign_id", c.ID, "err", err)
		default:
			res.Failed++
			observability.Sweeps.WithLabelValues("failed").Inc()
			slog.Error("sweep failed to start campaign", "campaign_id", c.ID, "err", err)
		}
	}
	slog.Info("sweep finished", "due", res.Due, "triggered", res.Triggered, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (s *Sweeper) start(ctx context.Context, c domain.Campaign, at time.Time) error {
	if s.Enqueuer != nil {
		job := sqsqueue.DispatchJob{CampaignID: c.ID, EnqueuedAt: at}
		if c.ScheduledFor != nil {
			job.ScheduledFor = *c.ScheduledFor
		}
		return s.Enqueuer.EnqueueDispatch(ctx, job)
	}
	out, err := s.Trigger.Trigger(ctx, c.ID)
	if err != nil {
		return err
	}
	slog.Info("scheduled campaign dispatched", "campaign_id", c.ID, "status", out.Status, "sent", out.SentCount)
	return nil
}
