// Package metrics exposes Raft and booking-domain counters/histograms on
// /metrics via prometheus/client_golang.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram this node publishes.
type Metrics struct {
	// Consensus metrics
	electionsStarted prometheus.Counter
	termChanges      prometheus.Counter
	currentTerm      prometheus.Gauge
	currentState     *prometheus.GaugeVec // one gauge per state, 1 for the active one
	logSize          prometheus.Gauge
	commitIndex      prometheus.Gauge
	lastApplied      prometheus.Gauge
	applyDuration    prometheus.Histogram
	peerRPCDuration  *prometheus.HistogramVec

	// Router / HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram

	// Booking domain metrics
	bookingsTotal     *prometheus.CounterVec
	commandsRejected  *prometheus.CounterVec
}

// NewMetrics registers and returns a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		electionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raftbooking_elections_started_total",
			Help: "Total number of elections this node has started.",
		}),
		termChanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raftbooking_term_changes_total",
			Help: "Total number of term increments observed.",
		}),
		currentTerm: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raftbooking_current_term",
			Help: "This node's current Raft term.",
		}),
		currentState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raftbooking_node_state",
			Help: "1 for the node's current role, 0 otherwise.",
		}, []string{"state"}),
		logSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raftbooking_log_size",
			Help: "Number of entries in the local replicated log.",
		}),
		commitIndex: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raftbooking_commit_index",
			Help: "Highest log index known to be committed.",
		}),
		lastApplied: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raftbooking_last_applied",
			Help: "Highest log index applied to the state machine.",
		}),
		applyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raftbooking_apply_duration_seconds",
			Help:    "Time spent applying a committed entry to the state machine.",
			Buckets: prometheus.DefBuckets,
		}),
		peerRPCDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raftbooking_peer_rpc_duration_seconds",
			Help:    "Round-trip duration of peer RequestVote/AppendEntries calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"message_type"}),
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raftbooking_http_requests_total",
			Help: "Total client-facing HTTP requests.",
		}, []string{"route", "status"}),
		requestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raftbooking_http_request_duration_seconds",
			Help:    "Client-facing HTTP request duration.",
			Buckets: prometheus.DefBuckets,
		}),
		bookingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raftbooking_bookings_total",
			Help: "Total booking operations applied, by operation and outcome.",
		}, []string{"operation", "status"}),
		commandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raftbooking_commands_rejected_total",
			Help: "Total commands rejected by the state machine, by operation.",
		}, []string{"operation"}),
	}
}

// RecordElectionStarted increments the elections-started counter.
func (m *Metrics) RecordElectionStarted() { m.electionsStarted.Inc() }

// RecordTermChange updates the current-term gauge and increments the
// term-changes counter.
func (m *Metrics) RecordTermChange(term uint64) {
	m.termChanges.Inc()
	m.currentTerm.Set(float64(term))
}

// SetState marks state as the node's single active role.
func (m *Metrics) SetState(state string) {
	for _, s := range []string{"follower", "candidate", "leader"} {
		if s == state {
			m.currentState.WithLabelValues(s).Set(1)
		} else {
			m.currentState.WithLabelValues(s).Set(0)
		}
	}
}

// SetLogSize records the local log's current length.
func (m *Metrics) SetLogSize(n int) { m.logSize.Set(float64(n)) }

// SetCommitIndex records the node's current commit index.
func (m *Metrics) SetCommitIndex(index uint64) { m.commitIndex.Set(float64(index)) }

// SetLastApplied records the node's last-applied index.
func (m *Metrics) SetLastApplied(index uint64) { m.lastApplied.Set(float64(index)) }

// ObserveApplyDuration records how long one Apply call took.
func (m *Metrics) ObserveApplyDuration(d time.Duration) { m.applyDuration.Observe(d.Seconds()) }

// ObservePeerRPC records a peer RPC's round-trip duration by message type.
func (m *Metrics) ObservePeerRPC(messageType string, d time.Duration) {
	m.peerRPCDuration.WithLabelValues(messageType).Observe(d.Seconds())
}

// RecordRequest records one client-facing HTTP request's route and status.
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

// RecordBooking records one applied booking-domain command.
func (m *Metrics) RecordBooking(operation, status string) {
	m.bookingsTotal.WithLabelValues(operation, status).Inc()
	if status != "success" {
		m.commandsRejected.WithLabelValues(operation).Inc()
	}
}

// GetRegistry returns the Prometheus registry this node publishes to.
func (m *Metrics) GetRegistry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
