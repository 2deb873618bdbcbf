package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Deliveries counts per-recipient outcomes of every dispatch.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Newsletter deliveries by dispatch kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Dispatches counts finished dispatch runs.
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_dispatches_total",
			Help: "Completed newsletter dispatches by kind",
		},
		[]string{"kind"},
	)

	// SubscriptionEvents counts subscription lifecycle events by name.
	SubscriptionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_subscription_events_total",
			Help: "Subscription lifecycle events",
		},
		[]string{"event"},
	)
)

// Dispatch kinds
const (
	KindManual    = "manual"
	KindScheduled = "scheduled"
	KindTest      = "test"
)

// Subscription events
const (
	EventSubscribed   = "subscribed"
	EventConfirmed    = "confirmed"
	EventUnsubscribed = "unsubscribed"
)

// Init registers the counters with the default prometheus registry
func Init() {
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(Dispatches)
	prometheus.MustRegister(SubscriptionEvents)
}
