package webrtc

import (
	"sync"
	"time"

	"comlink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	beaconClockRate = 48000
	beaconInterval  = 20 * time.Millisecond
)

// opusSilence is a minimal Opus frame the beacon repeats. The content is
// irrelevant; the packets exist so the remote end produces receiver reports
// and remote inbound stats for an otherwise idle link.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Beacon is the telemetry keepalive: a low-rate audio track whose only
// purpose is to keep RTP and RTCP flowing so link quality can be measured.
type Beacon struct {
	track   *webrtc.TrackLocalStaticRTP
	sender  *webrtc.RTPSender
	monitor *rtcpMonitor
	logger  *zap.SugaredLogger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewBeacon attaches the beacon track to pc and starts the RTCP monitor on
// its sender. Packet emission waits for Start.
func NewBeacon(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) (*Beacon, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: beaconClockRate},
		"telemetry",
		"comlink-beacon",
	)
	if err != nil {
		return nil, err
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	b := &Beacon{
		track:   track,
		sender:  sender,
		monitor: newRTCPMonitor(sender, logger),
		logger:  logger,
		done:    make(chan struct{}),
	}
	return b, nil
}

// Start begins emitting beacon packets. Safe to call more than once.
func (b *Beacon) Start() {
	b.startOnce.Do(func() {
		go b.emit()
	})
}

func (b *Beacon) emit() {
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	samplesPerPacket := uint32(beaconClockRate / int(time.Second/beaconInterval))

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: opusSilence,
			}
			if err := b.track.WriteRTP(pkt); err != nil {
				b.logger.Debugw("beacon write failed", "error", err)
				return
			}
			seq++
			ts += samplesPerPacket
		}
	}
}

// LastReceiverReport returns the latest sample derived from RTCP receiver
// reports, false when none has arrived yet.
func (b *Beacon) LastReceiverReport() (domain.StatsSample, bool) {
	return b.monitor.Last()
}

// Stop halts packet emission and the RTCP monitor. Idempotent.
func (b *Beacon) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.monitor.stop()
	})
}
