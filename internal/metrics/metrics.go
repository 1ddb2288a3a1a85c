package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the live session.
type Metrics struct {
	SubscriptionsOpened *prometheus.CounterVec
	SubscriptionsClosed *prometheus.CounterVec
	SubscriptionErrors  *prometheus.CounterVec
	ChangeBatches       *prometheus.CounterVec

	SessionTransitions *prometheus.CounterVec
	Notifications      prometheus.Counter

	Writes        *prometheus.CounterVec
	WriteFailures *prometheus.CounterVec
	WritesDenied  *prometheus.CounterVec
	WriteDuration *prometheus.HistogramVec

	AuthFailures   *prometheus.CounterVec
	PushDeliveries *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		SubscriptionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_subscriptions_opened_total",
				Help: "Live subscriptions opened, by collection",
			},
			[]string{"collection"},
		),
		SubscriptionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_subscriptions_closed_total",
				Help: "Live subscriptions closed, by collection",
			},
			[]string{"collection"},
		),
		SubscriptionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_subscription_errors_total",
				Help: "Live subscriptions that ended with an error",
			},
			[]string{"collection"},
		),
		ChangeBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_change_batches_total",
				Help: "Change batches applied to collection mirrors",
			},
			[]string{"collection"},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_session_transitions_total",
				Help: "Session state machine transitions, by target state",
			},
			[]string{"state"},
		),
		Notifications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gestorpro_notifications_total",
				Help: "User-facing notifications raised",
			},
		),
		Writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_writes_total",
				Help: "Mutations sent to the document store",
			},
			[]string{"resource", "op"},
		),
		WriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_write_failures_total",
				Help: "Mutations rejected by the document store",
			},
			[]string{"resource", "op"},
		),
		WritesDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_writes_denied_total",
				Help: "Mutations refused by the session's roles and permission levels",
			},
			[]string{"resource", "op"},
		),
		WriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gestorpro_write_duration_seconds",
				Help:    "Time until the document store acknowledged or rejected a write",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_auth_failures_total",
				Help: "Rejected auth operations",
			},
			[]string{"op"},
		),
		PushDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestorpro_push_deliveries_total",
				Help: "Push notification attempts, by outcome",
			},
			[]string{"success"},
		),
	}
}
