package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TerminalTransitions counts first arrivals at a terminal status,
	// labelled by the status reached. CAS semantics upstream guarantee at
	// most one increment per transaction.
	TerminalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decision",
		Subsystem: "tracker",
		Name:      "terminal_transitions_total",
		Help:      "Transactions that reached a terminal status, by status.",
	}, []string{"status"})

	// PollAttempts counts status poll attempts, labelled by source
	// (wallet or explorer).
	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decision",
		Subsystem: "tracker",
		Name:      "poll_attempts_total",
		Help:      "Transaction status poll attempts, by source.",
	}, []string{"source"})

	// TrackRequests counts transactions handed to the tracker.
	TrackRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decision",
		Subsystem: "tracker",
		Name:      "track_requests_total",
		Help:      "Transactions submitted for lifecycle tracking.",
	})

	// StaleFailures counts records aged out to Failed on read.
	StaleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decision",
		Subsystem: "tracker",
		Name:      "stale_failures_total",
		Help:      "Pending records reported as Failed after the staleness window.",
	})
)
