// Package metrics defines and registers the custom Prometheus metrics of the
// auth service. It is the single source of truth for metric names, labels and
// help strings.
//
// Metrics are registered with the default registry on package init via
// promauto; HTTP request metrics come from echoprometheus in the api package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nicedentist_auth"

// ── Consumer metrics ──────────────────────────────────────────────────────────

// MessagesConsumedTotal counts deliveries by how they were settled.
// Labels:
//   - event_type: canonical event type, or "unknown"
//   - outcome: "ack", "requeue", "dead_letter" or "ignored"
var MessagesConsumedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_consumed_total",
		Help:      "Total number of broker deliveries settled by the consumer.",
	},
	[]string{"event_type", "outcome"},
)

// DecodeErrorsTotal counts deliveries whose body could not be decoded.
var DecodeErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Total number of deliveries rejected by the envelope decoder.",
	},
	[]string{"event_type"},
)

// DispatcherQueueDepth tracks the jobs waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var DispatcherQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatcher_queue_depth",
		Help:      "Current number of deliveries pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// HandlerDuration measures a delivery from dispatch to settlement.
var HandlerDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Duration of event handling from dispatch to acknowledgement.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"event_type"},
)

// ── Provisioning metrics ──────────────────────────────────────────────────────

// UsersProvisionedTotal counts provisioned events.
// Labels:
//   - role: "Customer" or "Dentist"
//   - outcome: "created", "existing" or "reconciled"
var UsersProvisionedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_provisioned_total",
		Help:      "Total number of provisioning events completed, by outcome.",
	},
	[]string{"role", "outcome"},
)

// ProvisioningErrorsTotal counts provisioning failures.
// Label:
//   - stage: "store" or "publish"
var ProvisioningErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provisioning_errors_total",
		Help:      "Total number of provisioning attempts that failed.",
	},
	[]string{"role", "stage"},
)

var ProvisioningDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provisioning_duration_seconds",
		Help:      "Duration of a successful provisioning, lookup to correlation publish.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"role"},
)

var WelcomeNotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "welcome_notifications_total",
		Help:      "Total number of welcome notifications attempted, by result.",
	},
	[]string{"result"},
)

// ── Publisher metrics ─────────────────────────────────────────────────────────

// EventsPublishedTotal counts publish attempts.
// Labels:
//   - event_type: canonical event type
//   - result: "ok" or "error"
var EventsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of events handed to the broker, by result.",
	},
	[]string{"event_type", "result"},
)

// ── Auth metrics ──────────────────────────────────────────────────────────────

// AuthAttemptsTotal counts register and login calls.
// Labels:
//   - operation: "register" or "login"
//   - result: "ok", "invalid", "conflict", "rejected" or "error"
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of register and login attempts, by result.",
	},
	[]string{"operation", "result"},
)
