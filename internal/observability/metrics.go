package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_api_requests_total", Help: "HTTP requests by route template and status"},
		[]string{"route", "status"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_dispatch_total", Help: "Campaign dispatch attempts by result"},
		[]string{"result"},
	)
	DispatchRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_dispatch_recipients_total", Help: "Per-recipient send outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "newsletter_send_latency_seconds", Help: "Email transport send latency"},
	)
	TrackingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_tracking_events_total", Help: "Open/click tracking hits"},
		[]string{"type", "result"},
	)
	Subscriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_subscriptions_total", Help: "Subscription lifecycle operations"},
		[]string{"result"},
	)
	Sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newsletter_sweep_total", Help: "Scheduled sweep outcomes per due campaign"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Dispatches, DispatchRecipients, SendLatency, TrackingEvents, Subscriptions, Sweeps)
}
