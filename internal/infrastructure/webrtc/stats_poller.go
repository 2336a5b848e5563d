package webrtc

import (
	"context"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"

	"go.uber.org/zap"
)

// StatsPoller samples the transport on a fixed interval and hands each
// sample to sink. A cycle where the source has nothing to report is skipped
// silently; the previous assessment simply stands until the next sample.
type StatsPoller struct {
	source   ports.StatsSource
	sink     func(domain.StatsSample)
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewStatsPoller(source ports.StatsSource, sink func(domain.StatsSample), interval time.Duration, logger *zap.SugaredLogger) *StatsPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatsPoller{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until the context is cancelled.
func (p *StatsPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, ok := p.source.Stats()
			if !ok {
				continue
			}
			p.logger.Debugw("stats sample",
				"rtt", sample.RoundTripTime,
				"jitter", sample.Jitter,
				"packets_lost", sample.PacketsLost,
				"packets_sent", sample.PacketsSent,
			)
			p.sink(sample)
		}
	}
}
