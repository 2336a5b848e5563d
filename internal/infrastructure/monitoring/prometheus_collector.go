package monitoring

import (
	"comlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Relay side
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesRouted    *prometheus.CounterVec
	alertsRelayed     *prometheus.CounterVec
	roomsActive       prometheus.Gauge

	// Station side
	riskScore         prometheus.Gauge
	peerLinkState     *prometheus.GaugeVec
	relayEngaged      prometheus.Gauge
	reconnectAttempts prometheus.Gauge
	roundTripTime     prometheus.Histogram
	statsLossPct      prometheus.Gauge
	alertsEmitted     *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_relay_connections_active",
			Help: "Websocket connections currently held by the relay",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "comlink_relay_connections_total",
			Help: "Total websocket connections accepted by the relay",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "comlink_relay_messages_routed_total",
			Help: "Signaling frames routed by the relay, by message type",
		}, []string{"type"}),

		alertsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "comlink_relay_alerts_total",
			Help: "Network alerts relayed and archived, by level",
		}, []string{"level"}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_relay_rooms_active",
			Help: "Rooms with at least one joined peer",
		}),

		riskScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_link_risk_score",
			Help: "Current link failure risk score (0-100)",
		}),

		peerLinkState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comlink_peer_link_state",
			Help: "Peer link state as a one-hot gauge per state",
		}, []string{"state"}),

		relayEngaged: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_relay_engaged",
			Help: "1 while the satellite relay fallback is engaged",
		}),

		reconnectAttempts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_reconnect_attempts",
			Help: "Renegotiation attempts since the link last connected",
		}),

		roundTripTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "comlink_round_trip_time_seconds",
			Help:    "Round trip time reported by remote inbound stats",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.5, 0.8, 1, 2, 5},
		}),

		statsLossPct: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "comlink_packet_loss_percent",
			Help: "Lifetime packet loss percentage of the peer link",
		}),

		alertsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "comlink_alerts_emitted_total",
			Help: "Operator alerts emitted locally, by level",
		}, []string{"level"}),
	}
}

// Relay hooks.

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) MessageRouted(msgType string) {
	p.messagesRouted.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) AlertRelayed(level string) {
	p.alertsRelayed.WithLabelValues(level).Inc()
}

func (p *PrometheusCollector) SetActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

// Station hooks.

func (p *PrometheusCollector) RecordAssessment(risk domain.RiskAssessment, sample domain.StatsSample) {
	p.riskScore.Set(float64(risk.Score))
	p.statsLossPct.Set(sample.LossPercent())
	if sample.RoundTripTime > 0 {
		p.roundTripTime.Observe(sample.RoundTripTime.Seconds())
	}
}

func (p *PrometheusCollector) RecordPeerLinkState(state domain.PeerLinkState) {
	states := []domain.PeerLinkState{
		domain.PeerStateNew,
		domain.PeerStateConnecting,
		domain.PeerStateConnected,
		domain.PeerStateDisconnected,
		domain.PeerStateFailed,
		domain.PeerStateClosed,
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		p.peerLinkState.WithLabelValues(string(s)).Set(v)
	}
}

func (p *PrometheusCollector) RecordRelayEngaged(engaged bool) {
	if engaged {
		p.relayEngaged.Set(1)
	} else {
		p.relayEngaged.Set(0)
	}
}

func (p *PrometheusCollector) RecordReconnectAttempts(n int) {
	p.reconnectAttempts.Set(float64(n))
}

func (p *PrometheusCollector) RecordAlert(level domain.AlertLevel) {
	p.alertsEmitted.WithLabelValues(string(level)).Inc()
}
