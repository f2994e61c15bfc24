package email

import (
	"context"
	"log/slog"
)

// LogTransport logs messages instead of sending them. Local development only.
type LogTransport struct {
	Logger *slog.Logger
}

func (l *LogTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("MOCK EMAIL", "to", to, "subject", subject, "body_bytes", len(htmlBody))
	return nil
}
