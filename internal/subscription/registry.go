// Package subscription owns subscriber records and the double opt-in flow.
package subscription

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"newsletter/internal/domain"
	"newsletter/internal/links"
	"newsletter/internal/observability"
	"newsletter/internal/store"
	"newsletter/internal/util"
)

type Store interface {
	GetSubscriberByEmail(ctx context.Context, email string) (domain.Subscriber, bool, error)
	FindSubscriberByTokenHash(ctx context.Context, hash string) (domain.Subscriber, bool, error)
	InsertSubscriber(ctx context.Context, sub domain.Subscriber) error
	RotateConfirmToken(ctx context.Context, id, hash string) (bool, error)
	ConfirmSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	UnsubscribeSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	ReactivateSubscriber(ctx context.Context, id string, now time.Time) (bool, error)
	ListEligibleRecipients(ctx context.Context) ([]domain.Recipient, error)
	SetMarketingPreference(ctx context.Context, in store.MarketingPreference) error
}

type Mailer interface {
	SendConfirmation(ctx context.Context, to, confirmURL, unsubscribeURL string) error
	SendWelcome(ctx context.Context, to, unsubscribeURL string) error
}

type Outcome string

const (
	Created     Outcome = "created"
	Resent      Outcome = "confirmation_resent"
	Reactivated Outcome = "reactivated"
)

type Registry struct {
	store    Store
	mailer   Mailer
	links    links.Builder
	validate *validator.Validate

	Now      func() time.Time
	NewID    func() string
	NewToken func() (string, error)
}

func NewRegistry(st Store, mailer Mailer, lb links.Builder) *Registry {
	return &Registry{
		store:    st,
		mailer:   mailer,
		links:    lb,
		validate: validator.New(),
		Now:      util.NowUTC,
		NewID:    util.NewSubscriberID,
		NewToken: util.NewToken,
	}
}

// ValidEmail normalizes and syntax-checks an address.
func (r *Registry) ValidEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if err := r.validate.Var(email, "required,email,max=254"); err != nil {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

// Subscribe creates an unconfirmed subscriber and mails the confirmation
// link. Resubscribing an unsubscribed address reactivates it directly,
// without another confirmation round.
func (r *Registry) Subscribe(ctx context.Context, rawEmail string) (Outcome, error) {
	email, err := r.ValidEmail(rawEmail)
	if err != nil {
		observability.Subscriptions.WithLabelValues("invalid").Inc()
		return "", err
	}

	sub, found, err := r.store.GetSubscriberByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !found {
		out, err := r.create(ctx, email)
		if !errors.Is(err, store.ErrConflict) {
			return out, err
		}
		// lost a race with a concurrent subscribe for the same address
		sub, found, err = r.store.GetSubscriberByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("subscriber %s vanished after conflict", email)
		}
	}

	switch {
	case sub.Unsubscribed:
		if _, err := r.store.ReactivateSubscriber(ctx, sub.ID, r.Now()); err != nil {
			return "", err
		}
		observability.Subscriptions.WithLabelValues(string(Reactivated)).Inc()
		if err := r.mailer.SendWelcome(ctx, email, r.links.UnsubscribeURL(sub.UnsubscribeToken, email)); err != nil {
			slog.Warn("welcome email failed", "err", err, "subscriber_id", sub.ID)
		}
		return Reactivated, nil
	case !sub.Confirmed:
		if err := r.resend(ctx, sub); err != nil {
			return "", err
		}
		observability.Subscriptions.WithLabelValues(string(Resent)).Inc()
		return Resent, nil
	default:
		observability.Subscriptions.WithLabelValues("already_subscribed").Inc()
		return "", domain.ErrAlreadySubscribed
	}
}

func (r *Registry) create(ctx context.Context, email string) (Outcome, error) {
	confirmToken, err := r.NewToken()
	if err != nil {
		return "", err
	}
	unsubToken, err := r.NewToken()
	if err != nil {
		return "", err
	}
	sub := domain.Subscriber{
		ID:               r.NewID(),
		Email:            email,
		ConfirmTokenHash: util.HashToken(confirmToken),
		UnsubscribeToken: unsubToken,
		CreatedAt:        r.Now(),
	}
	if err := r.store.InsertSubscriber(ctx, sub); err != nil {
		return "", err
	}
	observability.Subscriptions.WithLabelValues(string(Created)).Inc()

	// The record stays unconfirmed on failure; subscribing again resends.
	if err := r.sendConfirmation(ctx, email, confirmToken, unsubToken); err != nil {
		return "", err
	}
	return Created, nil
}

// resend mints a fresh confirmation token, since only the hash of the
// previous one is stored. Earlier confirmation links stop working.
func (r *Registry) resend(ctx context.Context, sub domain.Subscriber) error {
	token, err := r.NewToken()
	if err != nil {
		return err
	}
	rotated, err := r.store.RotateConfirmToken(ctx, sub.ID, util.HashToken(token))
	if err != nil {
		return err
	}
	if !rotated {
		// confirmed in the meantime
		return domain.ErrAlreadySubscribed
	}
	return r.sendConfirmation(ctx, sub.Email, token, sub.UnsubscribeToken)
}

func (r *Registry) sendConfirmation(ctx context.Context, email, confirmToken, unsubToken string) error {
	err := r.mailer.SendConfirmation(ctx, email, r.links.ConfirmURL(confirmToken), r.links.UnsubscribeURL(unsubToken, email))
	if err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}

// Confirm redeems a confirmation token. Redeeming it again reports
// alreadyConfirmed without touching the record.
func (r *Registry) Confirm(ctx context.Context, token string) (alreadyConfirmed bool, err error) {
	if token == "" {
		return false, domain.ErrInvalidToken
	}
	sub, found, err := r.store.FindSubscriberByTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return false, err
	}
	if !found {
		observability.Subscriptions.WithLabelValues("invalid_token").Inc()
		return false, domain.ErrInvalidToken
	}
	if sub.Confirmed {
		return true, nil
	}

	changed, err := r.store.ConfirmSubscriber(ctx, sub.ID, r.Now())
	if err != nil {
		return false, err
	}
	if !changed {
		return true, nil
	}
	observability.Subscriptions.WithLabelValues("confirmed").Inc()

	if err := r.mailer.SendWelcome(ctx, sub.Email, r.links.UnsubscribeURL(sub.UnsubscribeToken, sub.Email)); err != nil {
		slog.Warn("welcome email failed", "err", err, "subscriber_id", sub.ID)
	}
	return false, nil
}

// Unsubscribe opts an address out. The token must match the subscriber's
// stored unsubscribe token.
func (r *Registry) Unsubscribe(ctx context.Context, token, rawEmail string) (alreadyUnsubscribed bool, err error) {
	email := domain.NormalizeEmail(rawEmail)
	if email == "" {
		return false, domain.ErrInvalidEmail
	}
	if token == "" {
		return false, domain.ErrInvalidToken
	}

	sub, found, err := r.store.GetSubscriberByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if !found {
		return false, domain.ErrSubscriberNotFound
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(sub.UnsubscribeToken)) != 1 {
		observability.Subscriptions.WithLabelValues("invalid_token").Inc()
		return false, domain.ErrInvalidToken
	}
	if sub.Unsubscribed {
		return true, nil
	}

	changed, err := r.store.UnsubscribeSubscriber(ctx, sub.ID, r.Now())
	if err != nil {
		return false, err
	}
	if !changed {
		return true, nil
	}
	observability.Subscriptions.WithLabelValues("unsubscribed").Inc()
	return false, nil
}

// EligibleRecipients is every confirmed, still-subscribed address that has not
// opted out of marketing mail.
func (r *Registry) EligibleRecipients(ctx context.Context) ([]domain.Recipient, error) {
	return r.store.ListEligibleRecipients(ctx)
}

func (r *Registry) SetMarketingPreference(ctx context.Context, rawEmail string, optedIn bool) error {
	email, err := r.ValidEmail(rawEmail)
	if err != nil {
		return err
	}
	return r.store.SetMarketingPreference(ctx, store.MarketingPreference{Email: email, OptedIn: optedIn, Now: r.Now()})
}
