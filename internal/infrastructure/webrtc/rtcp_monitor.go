package webrtc

import (
	"sync"
	"time"

	"comlink/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtcpMonitor reads receiver reports from the beacon's RTP sender and keeps
// the latest loss, jitter and round trip reading. It backfills the stats
// sample until the remote inbound report shows up in GetStats.
type rtcpMonitor struct {
	sender *webrtc.RTPSender
	logger *zap.SugaredLogger

	mu   sync.Mutex
	last domain.StatsSample
	have bool

	stopOnce sync.Once
	done     chan struct{}
}

func newRTCPMonitor(sender *webrtc.RTPSender, logger *zap.SugaredLogger) *rtcpMonitor {
	m := &rtcpMonitor{
		sender: sender,
		logger: logger,
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *rtcpMonitor) run() {
	for {
		select {
		case <-m.done:
			return
		default:
		}

		packets, _, err := m.sender.ReadRTCP()
		if err != nil {
			// The sender was closed with its peer connection.
			return
		}
		m.consume(packets)
	}
}

func (m *rtcpMonitor) consume(packets []rtcp.Packet) {
	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			sample := domain.StatsSample{
				Timestamp:   time.Now(),
				Jitter:      time.Duration(report.Jitter) * time.Second / beaconClockRate,
				PacketsLost: int64(report.TotalLost),
			}
			if rtt, ok := rttFromReport(sample.Timestamp, report); ok {
				sample.RoundTripTime = rtt
			}

			m.mu.Lock()
			m.last = sample
			m.have = true
			m.mu.Unlock()

			m.logger.Debugw("receiver report",
				"fraction_lost", report.FractionLost,
				"total_lost", report.TotalLost,
				"jitter", sample.Jitter,
				"rtt", sample.RoundTripTime,
			)
		}
	}
}

// rttFromReport computes the round trip from a reception report:
// now minus the echoed sender report time minus the receiver's hold time,
// all in middle-32-bit NTP format (1/65536 s units).
func rttFromReport(now time.Time, report rtcp.ReceptionReport) (time.Duration, bool) {
	if report.LastSenderReport == 0 {
		return 0, false
	}
	delta := ntpTime32(now) - report.LastSenderReport - report.Delay
	if delta&0x80000000 != 0 {
		// Clock skew or wraparound made the interval negative.
		return 0, false
	}
	return time.Duration(delta) * time.Second / 65536, true
}

// ntpTime32 is the middle 32 bits of the 64-bit NTP timestamp: low 16 bits
// of seconds, high 16 bits of the fraction.
func ntpTime32(t time.Time) uint32 {
	secs := uint64(t.Unix()) + 2208988800 // NTP epoch offset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return uint32(secs<<16) | uint32(frac>>16)
}

// Last returns the most recent receiver report reading.
func (m *rtcpMonitor) Last() (domain.StatsSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.have
}

func (m *rtcpMonitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
