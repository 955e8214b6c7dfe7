package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aeolun/chatapp/pkg/protocol"
)

// Metrics holds all Prometheus metrics for one server instance.
// Each server registers into its own registry so several servers can run in one process.
type Metrics struct {
	// Peer metrics
	activePeers        prometheus.Gauge
	peersJoined        prometheus.Counter
	peersLeft          prometheus.Counter
	peersDropped       prometheus.Counter
	handshakesRejected prometheus.Counter

	// Message metrics
	messagesReceived prometheus.Counter
	messagesSent     *prometheus.CounterVec // by envelope type

	// Broadcast metrics
	broadcastFanout   *prometheus.HistogramVec
	broadcastDuration *prometheus.HistogramVec
}

// NewMetrics creates the server metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activePeers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatapp_active_peers",
				Help: "Current number of registered peers",
			},
		),
		peersJoined: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatapp_peers_joined_total",
				Help: "Total number of accepted handshakes",
			},
		),
		peersLeft: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatapp_peers_left_total",
				Help: "Total number of peers deregistered after their stream closed",
			},
		),
		peersDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatapp_peers_dropped_total",
				Help: "Total number of peers disconnected because a delivery failed",
			},
		),
		handshakesRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatapp_handshakes_rejected_total",
				Help: "Total number of handshakes rejected for a taken or empty username",
			},
		),
		messagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatapp_messages_received_total",
				Help: "Total number of chat messages received from peers",
			},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatapp_messages_sent_total",
				Help: "Total number of envelopes delivered to peers by type",
			},
			[]string{"type"},
		),
		broadcastFanout: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatapp_broadcast_fanout",
				Help:    "Number of peers that received each broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"type"},
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatapp_broadcast_duration_seconds",
				Help:    "Time taken to deliver a broadcast to every peer",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// RecordActivePeers updates the registered peer count
func (m *Metrics) RecordActivePeers(count int) {
	m.activePeers.Set(float64(count))
}

// RecordPeerJoined increments the accepted handshake counter
func (m *Metrics) RecordPeerJoined() {
	m.peersJoined.Inc()
}

// RecordPeerLeft increments the deregistration counter
func (m *Metrics) RecordPeerLeft() {
	m.peersLeft.Inc()
}

// RecordPeerDropped increments the failed delivery counter
func (m *Metrics) RecordPeerDropped() {
	m.peersDropped.Inc()
}

// RecordHandshakeRejected increments the rejected handshake counter
func (m *Metrics) RecordHandshakeRejected() {
	m.handshakesRejected.Inc()
}

// RecordMessageReceived increments the received chat message counter
func (m *Metrics) RecordMessageReceived() {
	m.messagesReceived.Inc()
}

// RecordBroadcast records fan-out, duration and per-type deliveries of one broadcast
func (m *Metrics) RecordBroadcast(msgType protocol.MessageType, recipients int, elapsed time.Duration) {
	label := msgType.String()
	m.broadcastFanout.WithLabelValues(label).Observe(float64(recipients))
	m.broadcastDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	m.messagesSent.WithLabelValues(label).Add(float64(recipients))
}
