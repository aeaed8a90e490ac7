package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Scanner metrics
	ReleasesScanned  prometheus.Counter
	ReleasesSkipped  prometheus.Counter
	ScanDuration     prometheus.Histogram
	FindingsTotal    *prometheus.CounterVec
	IncidentsCreated *prometheus.CounterVec
	StuckIncidents   prometheus.Counter

	// Credential metrics
	CredentialsIssued       *prometheus.CounterVec
	CredentialVerifications *prometheus.CounterVec

	// Verifier metrics
	Verdicts *prometheus.CounterVec

	// Gate metrics
	GateDecisions    *prometheus.CounterVec
	GateDuration     prometheus.Histogram
	VerificationSeen *prometheus.CounterVec

	// Patch metrics
	PatchPlansCreated *prometheus.CounterVec

	// Transport metrics
	MessagesPublished *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	InboxDepth        *prometheus.GaugeVec

	// Watcher metrics
	ReleasesDiscovered prometheus.Counter
	WatcherErrors      prometheus.Counter

	// Worker metrics
	WorkerTasksProcessed prometheus.Counter
	WorkerRetries        prometheus.Counter
	WorkerErrors         prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ReleasesScanned: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_releases_scanned_total",
				Help: "Total number of release events analyzed by the scanner",
			}),
			ReleasesSkipped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_releases_skipped_total",
				Help: "Total number of release events skipped because they were already scanned",
			}),
			ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "swarmshield_scan_duration_seconds",
				Help:    "Duration of scanner handling per release in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			}),
			FindingsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_findings_total",
					Help: "Total number of risk indicators emitted by type",
				},
				[]string{"indicator_type"},
			),
			IncidentsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_incidents_created_total",
					Help: "Total number of incidents created by severity",
				},
				[]string{"severity"},
			),
			StuckIncidents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_stuck_incidents_total",
				Help: "Total number of incidents left in detected because no verifier was reachable",
			}),

			CredentialsIssued: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_credentials_issued_total",
					Help: "Total number of credentials issued by type",
				},
				[]string{"type"},
			),
			CredentialVerifications: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_credential_verifications_total",
					Help: "Total number of credential verifications by outcome",
				},
				[]string{"outcome"}, // valid, invalid_signature, untrusted
			),

			Verdicts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_verdicts_total",
					Help: "Total number of verifier verdicts",
				},
				[]string{"verdict"},
			),

			GateDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_gate_decisions_total",
					Help: "Total number of CI gate decisions",
				},
				[]string{"decision"}, // allowed, blocked
			),
			GateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "swarmshield_gate_duration_seconds",
				Help:    "Duration of CI gate evaluations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			}),
			VerificationSeen: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_ci_verification_results_total",
					Help: "Total number of verification results received by CI agents",
				},
				[]string{"verdict"},
			),

			PatchPlansCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_patch_plans_created_total",
					Help: "Total number of patch plans created by action",
				},
				[]string{"action"},
			),

			MessagesPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_transport_messages_published_total",
					Help: "Total number of messages published by type",
				},
				[]string{"type"},
			),
			MessagesDelivered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_transport_messages_delivered_total",
					Help: "Total number of messages handled successfully by type",
				},
				[]string{"type"},
			),
			MessagesFailed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmshield_transport_messages_failed_total",
					Help: "Total number of messages whose publish or handling failed by type",
				},
				[]string{"type"},
			),
			InboxDepth: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "swarmshield_transport_inbox_depth",
					Help: "Current number of undelivered messages per in-process inbox",
				},
				[]string{"identity"},
			),

			ReleasesDiscovered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_releases_discovered_total",
				Help: "Total number of new releases discovered by the registry watcher",
			}),
			WatcherErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_watcher_errors_total",
				Help: "Total number of registry watcher errors",
			}),

			WorkerTasksProcessed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_worker_tasks_processed_total",
				Help: "Total number of messages processed by agent runners",
			}),
			WorkerRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_worker_retries_total",
				Help: "Total number of handler retries after transient errors",
			}),
			WorkerErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarmshield_worker_errors_total",
				Help: "Total number of handler errors that were not retried further",
			}),
		}
	})
	return metricsInstance
}
