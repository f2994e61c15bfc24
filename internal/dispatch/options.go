package dispatch

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"newsletter/internal/email"
)

// Options tunes the send path. Zero fields leave the current setting alone.
type Options struct {
	RatePerSecond   float64
	Burst           int
	Concurrency     int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (d *Dispatcher) Configure(o Options) *Dispatcher {
	if o.RatePerSecond > 0 {
		d.Limiter = rate.NewLimiter(rate.Limit(o.RatePerSecond), max(o.Burst, 1))
	}
	if o.Concurrency > 0 {
		d.Concurrency = o.Concurrency
	}
	if o.BreakerFailures > 0 {
		d.Breaker = NewBreaker("email", o.BreakerFailures, o.BreakerTimeout)
	}
	return d
}

// NewBreaker opens after failures consecutive transport errors and probes
// again after timeout. A provider rejecting one recipient is not a transport
// failure and does not count toward tripping.
func NewBreaker(name string, failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  1,
		Timeout:      timeout,
		ReadyToTrip:  func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },
		IsSuccessful: func(err error) bool { return err == nil || IsRecipientRejection(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsRecipientRejection reports whether err is the provider refusing this one
// message (a 4xx other than 429) rather than the provider being unhealthy.
func IsRecipientRejection(err error) bool {
	var herr *email.HTTPError
	return errors.As(err, &herr) && !herr.Retryable()
}
