package domain

import "time"

// StatsSample is one reduction of the transport statistics report. Samples are
// ephemeral: each one is consumed by the risk scorer as it is produced and only
// the most recent value is retained.
type StatsSample struct {
	Timestamp     time.Time
	RoundTripTime time.Duration
	Jitter        time.Duration
	PacketsLost   int64
	PacketsSent   int64
}

// LossPercent returns the lifetime packet loss percentage. PacketsLost
// accumulates over the transport lifetime, so this is a smoothed average
// rather than an instantaneous rate.
func (s StatsSample) LossPercent() float64 {
	if s.PacketsSent <= 0 {
		return 0
	}
	pct := float64(s.PacketsLost) / float64(s.PacketsSent+s.PacketsLost) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProbableCause is the inferred explanation for link degradation.
type ProbableCause string

const (
	CauseNominal         ProbableCause = "nominal"
	CauseSignalingOutage ProbableCause = "signaling_outage"
	CausePacketLoss      ProbableCause = "packet_loss"
	CauseLongRoute       ProbableCause = "long_route"
	CauseCongestion      ProbableCause = "congestion"
	CauseElevatedLatency ProbableCause = "elevated_latency"
)

// Description returns the operator-facing text for a cause.
func (c ProbableCause) Description() string {
	switch c {
	case CauseSignalingOutage:
		return "Signaling outage or gateway unreachable"
	case CausePacketLoss:
		return "RF obstruction/interference or severe congestion (packet loss)"
	case CauseLongRoute:
		return "Long propagation/route detour increasing latency"
	case CauseCongestion:
		return "Network congestion or clock instability (high jitter)"
	case CauseElevatedLatency:
		return "Elevated latency possibly due to relay path changes"
	default:
		return "Nominal"
	}
}

// RiskAssessment is the scored output of one stats sample. It has no identity
// of its own: a fresh assessment replaces the previous one on every sample.
type RiskAssessment struct {
	Score int // 0-100, heuristic likelihood of imminent link failure
	Cause ProbableCause
}

// Severe reports whether the assessment alone warrants failover consideration.
func (r RiskAssessment) Severe() bool {
	return r.Score >= SevereRiskScore || r.Cause != CauseNominal
}

const (
	// SevereRiskScore is the score at or above which the failover controller
	// treats the link as at risk regardless of cause.
	SevereRiskScore = 80

	// RecoveredRiskScore is the score below which an engaged relay may stand
	// down once the peer link is connected again.
	RecoveredRiskScore = 30
)
