package webrtc

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

func TestReduceStatsReportSumsAcrossStreams(t *testing.T) {
	now := time.Now()
	report := webrtc.StatsReport{
		"remote-inbound-a": webrtc.RemoteInboundRTPStreamStats{
			RoundTripTime: 0.120,
			Jitter:        0.015,
			PacketsLost:   3,
		},
		"remote-inbound-b": webrtc.RemoteInboundRTPStreamStats{
			RoundTripTime: 0.120,
			Jitter:        0.015,
			PacketsLost:   4,
		},
		"outbound-a": webrtc.OutboundRTPStreamStats{PacketsSent: 100},
		"outbound-b": webrtc.OutboundRTPStreamStats{PacketsSent: 50},
	}

	sample, ok := reduceStatsReport(report, now)
	assert.True(t, ok)
	assert.Equal(t, now, sample.Timestamp)
	assert.Equal(t, 120*time.Millisecond, sample.RoundTripTime)
	assert.Equal(t, 15*time.Millisecond, sample.Jitter)
	assert.Equal(t, int64(7), sample.PacketsLost)
	assert.Equal(t, int64(150), sample.PacketsSent)
}

func TestReduceStatsReportWithoutRemoteInbound(t *testing.T) {
	report := webrtc.StatsReport{
		"outbound-a": webrtc.OutboundRTPStreamStats{PacketsSent: 42},
	}

	sample, ok := reduceStatsReport(report, time.Now())
	assert.False(t, ok)
	assert.Equal(t, int64(42), sample.PacketsSent)
}

func TestRTTFromReport(t *testing.T) {
	now := time.Now()

	// Our sender report went out 300ms ago; the receiver held it for 100ms
	// before reporting, leaving a 200ms round trip.
	report := rtcp.ReceptionReport{
		LastSenderReport: ntpTime32(now.Add(-300 * time.Millisecond)),
		Delay:            uint32(100 * 65536 / 1000),
	}

	rtt, ok := rttFromReport(now, report)
	assert.True(t, ok)
	assert.InDelta(t, 200, float64(rtt.Milliseconds()), 2)
}

func TestRTTFromReportNoSenderReport(t *testing.T) {
	_, ok := rttFromReport(time.Now(), rtcp.ReceptionReport{Delay: 100})
	assert.False(t, ok)
}

func TestRTTFromReportNegativeInterval(t *testing.T) {
	now := time.Now()
	report := rtcp.ReceptionReport{
		LastSenderReport: ntpTime32(now.Add(500 * time.Millisecond)),
		Delay:            0,
	}

	_, ok := rttFromReport(now, report)
	assert.False(t, ok)
}
