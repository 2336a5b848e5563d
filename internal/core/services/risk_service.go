package services

import (
	"math"
	"time"

	"comlink/internal/core/domain"
)

// RiskService scores link failure risk from transport statistics. Assess is a
// pure function of its inputs; no state is carried between samples.
type RiskService struct{}

func NewRiskService() *RiskService {
	return &RiskService{}
}

// Assess maps one stats sample to a 0-100 risk score and a probable cause.
// Contributions are individually capped, then the sum is clamped:
//
//	rtt:    min(60, rttMs/500 * 20)
//	jitter: min(20, jitterMs/50 * 10)
//	loss:   min(40, lossPct/5 * 20)
func (s *RiskService) Assess(sample domain.StatsSample, signaling domain.SignalingLinkState) domain.RiskAssessment {
	rttMs := float64(sample.RoundTripTime) / float64(time.Millisecond)
	jitterMs := float64(sample.Jitter) / float64(time.Millisecond)
	lossPct := sample.LossPercent()

	score := math.Min(60, rttMs/500*20)
	score += math.Min(20, jitterMs/50*10)
	score += math.Min(40, lossPct/5*20)
	score = math.Max(0, math.Min(100, math.Round(score)))

	return domain.RiskAssessment{
		Score: int(score),
		Cause: inferCause(rttMs, jitterMs, lossPct, signaling),
	}
}

// inferCause picks the most actionable explanation, first match wins. Outage
// and loss outrank latency: they are better diagnostics than slowness alone.
func inferCause(rttMs, jitterMs, lossPct float64, signaling domain.SignalingLinkState) domain.ProbableCause {
	switch {
	case signaling != domain.SignalingOnline:
		return domain.CauseSignalingOutage
	case lossPct > 5:
		return domain.CausePacketLoss
	case rttMs > 800 && lossPct < 2:
		return domain.CauseLongRoute
	case jitterMs > 30:
		return domain.CauseCongestion
	case rttMs > 300:
		return domain.CauseElevatedLatency
	default:
		return domain.CauseNominal
	}
}
