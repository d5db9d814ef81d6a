// Package metrics defines the prometheus instrumentation emitted by the
// core. A Metrics value is constructed from an explicit Registerer and
// passed to components at construction; there are no ambient globals, so
// tests can hand every peer its own registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "bitcraps"

// Metrics is the counter set shared by the consensus engine, the bridge
// and the game manager.
type Metrics struct {
	ProposalsSubmitted prometheus.Counter
	ProposalsAccepted  prometheus.Counter
	ProposalsRejected  prometheus.Counter

	ForksObserved         prometheus.Counter
	EquivocationsDetected prometheus.Counter

	CommitLatency prometheus.Histogram

	LedgerTotalSupply prometheus.Gauge

	MessagesDeduplicated prometheus.Counter
	MessagesForwarded    prometheus.Counter
	SyncRequests         prometheus.Counter
}

// New registers and returns the metric set. Pass a fresh
// prometheus.NewRegistry() per peer in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProposalsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_submitted_total",
			Help:      "Proposals built and broadcast by this peer.",
		}),
		ProposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_accepted_total",
			Help:      "Proposals committed to the chain.",
		}),
		ProposalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_rejected_total",
			Help:      "Proposals rejected by validation or vote.",
		}),
		ForksObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forks_observed_total",
			Help:      "Heights at which competing proposals were seen.",
		}),
		EquivocationsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "equivocations_detected_total",
			Help:      "Evidence records created for conflicting signed statements.",
		}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_ms",
			Help:      "Milliseconds spent applying a proposal at commit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		LedgerTotalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_total_supply_observed",
			Help:      "Sum of all balances; constant when conservation holds.",
		}),
		MessagesDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deduplicated_total",
			Help:      "Duplicate frames absorbed by the bridge's LRU.",
		}),
		MessagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Frames gossiped on to neighbors.",
		}),
		SyncRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "SyncRequests emitted for missing ancestors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ProposalsSubmitted, m.ProposalsAccepted, m.ProposalsRejected,
			m.ForksObserved, m.EquivocationsDetected, m.CommitLatency,
			m.LedgerTotalSupply, m.MessagesDeduplicated, m.MessagesForwarded,
			m.SyncRequests,
		)
	}
	return m
}

// NewNop returns an unregistered metric set for callers that do not
// care about observation.
func NewNop() *Metrics { return New(nil) }
