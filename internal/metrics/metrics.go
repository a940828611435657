package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_rpc_errors_total",
			Help: "Total number of RPC errors by method",
		},
		[]string{"method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveysync_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_cycles_total",
			Help: "Poll cycles by outcome (ok, empty, error)",
		},
		[]string{"status"},
	)

	lastCheckpoint = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surveysync_checkpoint_block",
			Help: "Last block height persisted as checkpoint",
		},
	)

	chainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surveysync_chain_tip_block",
			Help: "Latest block height reported by the provider",
		},
	)

	pollerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surveysync_poller_state",
			Help: "Current poller state (0=idle 1=fetching 2=decoding 3=dispatching 4=checkpointing 5=sleeping)",
		},
	)

	eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_events_dispatched_total",
			Help: "Decoded events dispatched by kind",
		},
		[]string{"kind"},
	)

	logsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_logs_skipped_total",
			Help: "Logs skipped before dispatch by reason",
		},
		[]string{"reason"},
	)

	downstreamMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_downstream_not_found_total",
			Help: "Events dropped because the downstream record was not found",
		},
		[]string{"kind"},
	)
)

func RPCMethodInc(method string) {
	rpcRequests.WithLabelValues(method).Inc()
}

func RPCMethodDuration(method string, duration time.Duration) {
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RPCMethodError(method string) {
	rpcErrors.WithLabelValues(method).Inc()
}

func CycleInc(status string) {
	cycles.WithLabelValues(status).Inc()
}

func CheckpointSet(block uint64) {
	lastCheckpoint.Set(float64(block))
}

func ChainTipSet(block uint64) {
	chainTip.Set(float64(block))
}

func PollerStateSet(state int) {
	pollerState.Set(float64(state))
}

func EventDispatchedInc(kind string) {
	eventsDispatched.WithLabelValues(kind).Inc()
}

func LogSkippedInc(reason string) {
	logsSkipped.WithLabelValues(reason).Inc()
}

func DownstreamNotFoundInc(kind string) {
	downstreamMissing.WithLabelValues(kind).Inc()
}
