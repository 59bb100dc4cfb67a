package spv

import (
	"sync"

	"github.com/bsv-blockchain/go-wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusSPVConnections          prometheus.Gauge
	prometheusSPVConnectionAttempts   prometheus.Counter
	prometheusSPVConnectionsClosed    *prometheus.CounterVec
	prometheusSPVHandshakeDuration    prometheus.Histogram
	prometheusSPVMessagesReceived     *prometheus.CounterVec
	prometheusSPVMessagesSent         prometheus.Counter
	prometheusSPVFrameErrors          prometheus.Counter
	prometheusSPVDecodeErrors         prometheus.Counter
	prometheusSPVRequestsDispatched   prometheus.Counter
	prometheusSPVRequestsTimedOut     prometheus.Counter
	prometheusSPVRequestsDropped      prometheus.Counter
	prometheusSPVPeerAddresses        prometheus.Gauge
	prometheusSPVPeerAddressesPruned  prometheus.Counter
	prometheusSPVNetworkChainHeight   prometheus.Gauge
	prometheusSPVChainSyncRequests    *prometheus.CounterVec
	prometheusSPVLoopIterationSeconds prometheus.Histogram
	prometheusSPVBanScoreIncrements   *prometheus.CounterVec
)

var (
	prometheusMetricsInitOnce sync.Once
)

// unknownCommandLabel is the command label of every message whose command is not listed in
// labelledCommands. Commands come from the peer, so they never become label values as is.
const unknownCommandLabel = "unknown"

var labelledCommands = map[string]struct{}{
	wire.CmdVersion:     {},
	wire.CmdVerAck:      {},
	wire.CmdGetAddr:     {},
	wire.CmdAddr:        {},
	wire.CmdGetBlocks:   {},
	wire.CmdInv:         {},
	wire.CmdGetData:     {},
	wire.CmdNotFound:    {},
	wire.CmdBlock:       {},
	wire.CmdTx:          {},
	wire.CmdGetHeaders:  {},
	wire.CmdHeaders:     {},
	wire.CmdPing:        {},
	wire.CmdPong:        {},
	wire.CmdMemPool:     {},
	wire.CmdFilterAdd:   {},
	wire.CmdFilterClear: {},
	wire.CmdFilterLoad:  {},
	wire.CmdMerkleBlock: {},
	wire.CmdReject:      {},
	wire.CmdSendHeaders: {},
	wire.CmdFeeFilter:   {},
	wire.CmdProtoconf:   {},
	wire.CmdSendcmpct:   {},
	wire.CmdAuthch:      {},
	wire.CmdAuthresp:    {},
}

// commandLabel returns the metric label for a command received from a peer.
func commandLabel(command string) string {
	if _, ok := labelledCommands[command]; ok {
		return command
	}

	return unknownCommandLabel
}

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusSPVConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "connections",
			Help:      "Number of outbound peer connections, including those still connecting",
		},
	)

	prometheusSPVConnectionAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "connection_attempts",
			Help:      "Number of outbound connection attempts",
		},
	)

	prometheusSPVConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "connections_closed",
			Help:      "Number of closed peer connections by reason",
		},
		[]string{"reason"},
	)

	prometheusSPVHandshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "handshake_duration_seconds",
			Help:      "Time from starting a connection to completing the version handshake",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	prometheusSPVMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "messages_received",
			Help:      "Number of framed messages received by command",
		},
		[]string{"command"},
	)

	prometheusSPVMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "messages_sent",
			Help:      "Number of messages written to peers",
		},
	)

	prometheusSPVFrameErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "frame_errors",
			Help:      "Number of connections closed for a bad message header",
		},
	)

	prometheusSPVDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "decode_errors",
			Help:      "Number of framed messages that could not be decoded",
		},
	)

	prometheusSPVRequestsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "requests_dispatched",
			Help:      "Number of getdata requests sent to peers",
		},
	)

	prometheusSPVRequestsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "requests_timed_out",
			Help:      "Number of in-flight requests returned to pending after a timeout",
		},
	)

	prometheusSPVRequestsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "requests_dropped",
			Help:      "Number of requests dropped because no peer could supply them",
		},
	)

	prometheusSPVPeerAddresses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "peer_addresses",
			Help:      "Number of known peer addresses",
		},
	)

	prometheusSPVPeerAddressesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "peer_addresses_pruned",
			Help:      "Number of stale peer addresses removed",
		},
	)

	prometheusSPVNetworkChainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "network_chain_height",
			Help:      "Highest chain height advertised by an established peer",
		},
	)

	prometheusSPVChainSyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "chain_sync_requests",
			Help:      "Number of chain sync requests sent by command",
		},
		[]string{"command"},
	)

	prometheusSPVLoopIterationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "loop_iteration_seconds",
			Help:      "Time spent processing one network loop iteration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	prometheusSPVBanScoreIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teranode",
			Subsystem: "spv",
			Name:      "ban_score_increments",
			Help:      "Number of ban score increases by reason",
		},
		[]string{"reason"},
	)
}
