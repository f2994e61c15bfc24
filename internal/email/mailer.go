package email

import (
	"context"
	"fmt"
)

// Mailer sends the double opt-in system mail.
type Mailer struct {
	Transport Transport
}

func (m *Mailer) SendConfirmation(ctx context.Context, to, confirmURL, unsubscribeURL string) error {
	body, err := ConfirmationBody(to, confirmURL, unsubscribeURL)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	return m.Transport.Send(ctx, to, "Please confirm your subscription", body)
}

func (m *Mailer) SendWelcome(ctx context.Context, to, unsubscribeURL string) error {
	body, err := WelcomeBody(to, unsubscribeURL)
	if err != nil {
		return fmt.Errorf("render welcome: %w", err)
	}
	return m.Transport.Send(ctx, to, "Welcome to the newsletter", body)
}
