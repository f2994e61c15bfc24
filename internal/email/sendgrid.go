package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridTransport struct {
	client   *sendgrid.Client
	fromAddr string
	fromName string
	logger   *slog.Logger
}

func NewSendGridTransport(apiKey, fromAddr, fromName string, logger *slog.Logger) *SendGridTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridTransport{
		client:   sendgrid.NewSendClient(apiKey),
		fromAddr: fromAddr,
		fromName: fromName,
		logger:   logger,
	}
}

func (s *SendGridTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	from := mail.NewEmail(s.fromName, s.fromAddr)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), "", htmlBody)

	var lastErr error
	err := retry.Do(
		func() error {
			resp, err := s.client.SendWithContext(ctx, message)
			if err != nil {
				lastErr = fmt.Errorf("sendgrid send: %w", err)
				return lastErr
			}
			if resp.StatusCode >= 400 {
				herr := &HTTPError{Provider: "sendgrid", StatusCode: resp.StatusCode, Body: resp.Body}
				lastErr = herr
				if !herr.Retryable() {
					return retry.Unrecoverable(herr)
				}
				return herr
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("retrying sendgrid send", "attempt", n, "to", to, "err", err)
		}),
	)
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
