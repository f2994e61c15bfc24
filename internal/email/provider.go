package email

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Options selects and configures a Transport.
type Options struct {
	Provider       string // brevo, sendgrid or log
	BrevoAPIKey    string
	BrevoBaseURL   string
	SendGridAPIKey string
	FromAddr       string
	FromName       string
	Logger         *slog.Logger
}

func NewTransport(o Options) (Transport, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(o.Provider)) {
	case "brevo":
		if o.BrevoAPIKey == "" {
			return nil, fmt.Errorf("BREVO_API_KEY is required for the brevo provider")
		}
		return &BrevoTransport{
			APIKey:   o.BrevoAPIKey,
			FromAddr: o.FromAddr,
			FromName: o.FromName,
			BaseURL:  o.BrevoBaseURL,
			HTTP:     &http.Client{Timeout: 10 * time.Second},
			Logger:   logger,
		}, nil
	case "sendgrid":
		if o.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return NewSendGridTransport(o.SendGridAPIKey, o.FromAddr, o.FromName, logger), nil
	case "log", "":
		return &LogTransport{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", o.Provider)
	}
}
