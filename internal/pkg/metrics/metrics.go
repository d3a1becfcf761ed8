// Package metrics defines and registers the custom Prometheus metrics of the
// storefront auth service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics register with the default Prometheus registry on package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// ── Auth request metrics ─────────────────────────────────────────────────────

// AuthRequestsTotal counts auth operations handled over HTTP.
// Labels:
//   - operation: "register", "login", "refresh", "logout", "profile",
//     "password_forgot", "password_reset"
//   - outcome: "ok" or a short error class (e.g. "invalid_credentials", "conflict")
var AuthRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_requests_total",
		Help:      "Total number of auth operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// AuthRequestDuration measures how long an auth operation takes, bcrypt included.
var AuthRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "auth_request_duration_seconds",
		Help:      "Duration of auth operations.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// ── Audit metrics ────────────────────────────────────────────────────────────

// AuthEventsTotal counts auth events accepted by the audit dispatcher.
// Label:
//   - kind: the event kind (e.g. "login_succeeded", "refresh_reuse_detected")
var AuthEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_total",
		Help:      "Total number of auth events recorded, by kind.",
	},
	[]string{"kind"},
)

// AuditDroppedTotal counts events discarded because a worker queue was full.
var AuditDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Total number of audit events dropped because the queue was full.",
	},
)

// AuditPersistErrorsTotal counts audit events that failed to persist.
var AuditPersistErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_persist_errors_total",
		Help:      "Total number of audit events that could not be persisted.",
	},
)

// AuditQueueDepth tracks the number of events waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of events pending in each audit worker channel.",
	},
	[]string{"worker_id"},
)
