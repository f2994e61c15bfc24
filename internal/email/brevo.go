package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const defaultBrevoBaseURL = "https://api.brevo.com"

// BrevoTransport sends through the Brevo (formerly Sendinblue) SMTP API.
type BrevoTransport struct {
	APIKey   string
	FromAddr string
	FromName string
	BaseURL  string
	HTTP     *http.Client
	Logger   *slog.Logger
	Attempts uint
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (b *BrevoTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	body, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.FromAddr, Name: b.FromName},
		To:      []brevoContact{{Email: to}},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	baseURL := strings.TrimRight(b.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBrevoBaseURL
	}
	endpoint := baseURL + "/v3/smtp/email"

	// the attempt's own error is reported rather than retry's aggregate
	var lastErr error
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("api-key", b.APIKey)

			resp, err := b.client().Do(req)
			if err != nil {
				lastErr = err
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				herr := &HTTPError{Provider: "brevo", StatusCode: resp.StatusCode, Body: string(raw)}
				lastErr = herr
				if !herr.Retryable() {
					return retry.Unrecoverable(herr)
				}
				return herr
			}
			return nil
		},
		retry.Attempts(b.attempts()),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger().Info("retrying brevo send", "attempt", n, "to", to, "err", err)
		}),
	)
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

func (b *BrevoTransport) client() *http.Client {
	if b.HTTP != nil {
		return b.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (b *BrevoTransport) attempts() uint {
	if b.Attempts == 0 {
		return 3
	}
	return b.Attempts
}

func (b *BrevoTransport) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
