package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	envelopeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "channel",
			Name:      "envelopes_total",
			Help:      "Reliable envelope lifecycle events (sent, retransmitted, acked, dropped).",
		},
		[]string{"role", "event"},
	)
	pendingEnvelopes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "channel",
			Name:      "pending_envelopes",
			Help:      "Envelopes awaiting acknowledgment.",
		},
		[]string{"role"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "channel",
			Name:      "frames_received_total",
			Help:      "Inbound frames by kind.",
		},
		[]string{"role", "kind"},
	)
	brokerConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts by broker index and result.",
		},
		[]string{"role", "broker", "result"},
	)
	activeBroker = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "transport",
			Name:      "active_broker_index",
			Help:      "Index of the active broker, -1 when disconnected.",
		},
		[]string{"role"},
	)
	brokerMigrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "transport",
			Name:      "primary_migrations_total",
			Help:      "Switches from a backup broker back to the primary.",
		},
		[]string{"role"},
	)
	peersByTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "registry",
			Name:      "peers",
			Help:      "Known peers by liveness tier.",
		},
		[]string{"tier"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "registry",
			Name:      "dispatches_total",
			Help:      "Command dispatch attempts by result.",
		},
		[]string{"result"},
	)
	commandsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "queue",
			Name:      "commands_total",
			Help:      "Commands executed by the endpoint queue.",
		},
		[]string{"outcome"},
	)
	commandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "queue",
			Name:      "command_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			envelopeEvents,
			pendingEnvelopes,
			framesReceived,
			brokerConnects,
			activeBroker,
			brokerMigrations,
			peersByTier,
			dispatches,
			commandsExecuted,
			commandDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordEnvelope counts one envelope lifecycle event: sent, retransmitted, acked, dropped.
func RecordEnvelope(role, event string) {
	RegisterMetrics()
	envelopeEvents.WithLabelValues(role, event).Inc()
}

func SetPendingEnvelopes(role string, n int) {
	RegisterMetrics()
	pendingEnvelopes.WithLabelValues(role).Set(float64(n))
}

func RecordFrame(role, kind string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(role, kind).Inc()
}

func RecordBrokerConnect(role string, index int, ok bool) {
	RegisterMetrics()
	result := "failed"
	if ok {
		result = "connected"
	}
	brokerConnects.WithLabelValues(role, strconv.Itoa(index), result).Inc()
}

func SetActiveBroker(role string, index int) {
	RegisterMetrics()
	activeBroker.WithLabelValues(role).Set(float64(index))
}

func RecordPrimaryMigration(role string) {
	RegisterMetrics()
	brokerMigrations.WithLabelValues(role).Inc()
}

func SetPeersByTier(counts map[string]int) {
	RegisterMetrics()
	for tier, n := range counts {
		peersByTier.WithLabelValues(tier).Set(float64(n))
	}
}

func RecordDispatch(result string) {
	RegisterMetrics()
	dispatches.WithLabelValues(result).Inc()
}

func RecordCommand(outcome string, duration time.Duration) {
	RegisterMetrics()
	commandsExecuted.WithLabelValues(outcome).Inc()
	commandDuration.Observe(duration.Seconds())
}
