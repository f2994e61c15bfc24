// Package dispatch sends a campaign to every eligible recipient.
//
// A trigger claims the campaign with a conditional draft|scheduled -> sending
// update, so at most one dispatch proceeds per campaign. Recipients are sent
// through a bounded pool; each send is isolated, and its error lands in the
// campaign's error log instead of aborting the batch. The results fold into
// one Outcome, committed once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"newsletter/internal/domain"
	"newsletter/internal/email"
	"newsletter/internal/links"
	"newsletter/internal/observability"
	"newsletter/internal/rewrite"
	"newsletter/internal/store"
	"newsletter/internal/util"
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, now time.Time) (bool, error)
	CompleteCampaign(ctx context.Context, in store.CampaignResult) (bool, error)
}

type RecipientSource interface {
	EligibleRecipients(ctx context.Context) ([]domain.Recipient, error)
}

// Outcome is the folded result of one dispatch.
type Outcome struct {
	CampaignID string
	Status     domain.CampaignStatus
	SentCount  int
	Errors     []domain.RecipientError
}

type Dispatcher struct {
	store      Store
	recipients RecipientSource
	transport  email.Transport
	links      links.Builder

	Limiter       *rate.Limiter
	Breaker       *gobreaker.CircuitBreaker
	Concurrency   int
	SendTimeout   time.Duration
	CommitTimeout time.Duration
	// BreakerPoll is how often a send parked on an open breaker checks again.
	BreakerPoll time.Duration
	Now         func() time.Time
}

func New(st Store, recipients RecipientSource, transport email.Transport, lb links.Builder) *Dispatcher {
	return &Dispatcher{
		store:         st,
		recipients:    recipients,
		transport:     transport,
		links:         lb,
		Concurrency:   1,
		SendTimeout:   15 * time.Second,
		CommitTimeout: 10 * time.Second,
		BreakerPoll:   250 * time.Millisecond,
		Now:           util.NowUTC,
	}
}

// Trigger runs one dispatch of campaignID. ErrDuplicateSend means the
// campaign was not in draft or scheduled, or another trigger claimed it first.
func (d *Dispatcher) Trigger(ctx context.Context, campaignID string) (Outcome, error) {
	c, found, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{}, domain.ErrCampaignNotFound
	}
	if _, err := c.Status.Transition(domain.StatusSending); err != nil {
		observability.Dispatches.WithLabelValues("duplicate").Inc()
		return Outcome{}, domain.ErrDuplicateSend
	}

	claimed, err := d.store.TransitionCampaign(ctx, c.ID, domain.SendableStatuses(), domain.StatusSending, d.Now())
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		observability.Dispatches.WithLabelValues("duplicate").Inc()
		return Outcome{}, domain.ErrDuplicateSend
	}
	// An edit may have landed between the read above and the claim; the
	// claimed row is what goes out. Sending rows are locked against edits.
	c, found, err = d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload claimed campaign: %w", err)
	}
	if !found {
		return Outcome{}, domain.ErrCampaignNotFound
	}
	slog.Info("campaign dispatch start", "campaign_id", c.ID)

	recipients, err := d.recipients.EligibleRecipients(ctx)
	if err != nil {
		// the campaign stays in sending until an operator intervenes
		observability.Dispatches.WithLabelValues("recipient_fetch_error").Inc()
		slog.Error("campaign recipient fetch failed", "campaign_id", c.ID, "err", err)
		return Outcome{}, &domain.RecipientFetchError{Err: err}
	}

	// The claim is taken; from here every recipient is attempted even if the
	// caller goes away. Each send is still bounded by SendTimeout.
	sendCtx := context.WithoutCancel(ctx)

	start := time.Now()
	results := d.sendAll(sendCtx, c, recipients)
	out := fold(c.ID, recipients, results)

	if _, err := domain.StatusSending.Transition(out.Status); err != nil {
		return out, err
	}
	if err := d.commit(ctx, out); err != nil {
		observability.Dispatches.WithLabelValues("commit_error").Inc()
		return out, err
	}

	observability.Dispatches.WithLabelValues(string(out.Status)).Inc()
	slog.Info("campaign dispatch finish",
		"campaign_id", c.ID,
		"status", out.Status,
		"recipients", len(recipients),
		"sent", out.SentCount,
		"failed", len(out.Errors),
		"duration", time.Since(start),
	)
	return out, nil
}

// sendAll attempts every recipient exactly once. results[i] is nil on success.
func (d *Dispatcher) sendAll(ctx context.Context, c domain.Campaign, recipients []domain.Recipient) []error {
	results := make([]error, len(recipients))

	var g errgroup.Group
	g.SetLimit(max(d.Concurrency, 1))
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = d.sendOne(ctx, c, r)
			if results[i] != nil {
				observability.DispatchRecipients.WithLabelValues("error").Inc()
				slog.Warn("campaign recipient send failed", "campaign_id", c.ID, "to", r.Email, "err", results[i])
			} else {
				observability.DispatchRecipients.WithLabelValues("ok").Inc()
			}
			// recipient failures never fail the group
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, c domain.Campaign, r domain.Recipient) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.TransportError{Recipient: r.Email, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	body, err := d.Render(c, r)
	if err != nil {
		return err
	}

	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return &domain.TransportError{Recipient: r.Email, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	start := time.Now()
	err = d.executeWithBreaker(ctx, func(ctx context.Context) error {
		return d.transport.Send(ctx, r.Email, c.Subject, body)
	})
	observability.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return &domain.TransportError{Recipient: r.Email, Err: err}
	}
	return nil
}

// executeWithBreaker runs send through the breaker. A send refused by an open
// or probing breaker waits for it to let calls through again instead of
// failing, so the recipient still gets its one real attempt.
func (d *Dispatcher) executeWithBreaker(ctx context.Context, send func(context.Context) error) error {
	call := func() (any, error) {
		sendCtx := ctx
		if d.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.SendTimeout)
			defer cancel()
		}
		return nil, send(sendCtx)
	}
	if d.Breaker == nil {
		_, err := call()
		return err
	}
	for {
		_, err := d.Breaker.Execute(call)
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		if err := d.waitForBreaker(ctx); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) waitForBreaker(ctx context.Context) error {
	poll := d.BreakerPoll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	t := time.NewTimer(poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for circuit breaker: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Render builds one recipient's message: placeholders are filled, http(s)
// links are routed through click tracking, then the unsubscribe footer and
// open pixel are appended untracked.
func (d *Dispatcher) Render(c domain.Campaign, r domain.Recipient) (string, error) {
	unsubURL := d.links.UnsubscribeURL(r.UnsubscribeToken, r.Email)
	body := util.RenderTemplate(c.Content, map[string]string{
		"email":           html.EscapeString(r.Email),
		"unsubscribe_url": html.EscapeString(unsubURL),
	})

	rule := rewrite.ClickTracking(func(href string) string {
		return d.links.ClickURL(c.ID, r.SubscriberID, href)
	}, d.links.ClickPrefix(), d.links.NewsletterPrefix())
	body = rewrite.Rewrite(body, rule)

	trailer, err := email.CampaignTrailer(unsubURL, d.links.OpenURL(c.ID, r.SubscriberID))
	if err != nil {
		return "", fmt.Errorf("render trailer: %w", err)
	}
	return email.AppendTrailer(body, trailer), nil
}

func fold(campaignID string, recipients []domain.Recipient, results []error) Outcome {
	out := Outcome{CampaignID: campaignID, Status: domain.StatusSent}
	for i, err := range results {
		if err == nil {
			out.SentCount++
			continue
		}
		msg := err.Error()
		var te *domain.TransportError
		if errors.As(err, &te) {
			msg = te.Err.Error()
		}
		out.Errors = append(out.Errors, domain.RecipientError{Email: recipients[i].Email, Error: msg})
	}
	if len(out.Errors) > 0 {
		out.Status = domain.StatusFailed
	}
	return out
}

// commit writes the terminal state. It runs detached from ctx so a caller
// that gave up after the sends went out cannot strand the campaign in sending.
func (d *Dispatcher) commit(ctx context.Context, out Outcome) error {
	timeout := d.CommitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	ok, err := d.store.CompleteCampaign(commitCtx, store.CampaignResult{
		ID:        out.CampaignID,
		Status:    out.Status,
		SentCount: out.SentCount,
		ErrorLog:  out.Errors,
		SentAt:    d.Now(),
	})
	if err != nil {
		return fmt.Errorf("commit campaign %s: %w", out.CampaignID, err)
	}
	if !ok {
		return fmt.Errorf("commit campaign %s: %w", out.CampaignID, domain.ErrInvalidTransition)
	}
	return nil
}
