package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/services"
	"comlink/internal/infrastructure/monitoring"
	signalinfra "comlink/internal/infrastructure/signal"
	webrtcinfra "comlink/internal/infrastructure/webrtc"
	"comlink/pkg/config"
	"comlink/pkg/logger"
	"comlink/pkg/retry"
	"comlink/pkg/utils"
	"comlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("COMLINK_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := validation.ValidateRelayURL(cfg.Station.RelayURL); err != nil {
		log.Fatalw("invalid relay url", "url", cfg.Station.RelayURL, "error", err)
	}

	room := domain.RoomID(cfg.Station.Room)
	if room == "" {
		room = domain.RoomID(utils.GenerateRoomToken())
		log.Infow("no room configured, generated one", "room", room)
	} else if err := validation.ValidateRoomID(string(room)); err != nil {
		log.Fatalw("invalid room", "room", room, "error", err)
	}

	peerID := domain.PeerID(cfg.Station.Callsign)
	if peerID == "" {
		peerID = domain.PeerID(utils.GeneratePeerID())
	}

	sess := domain.Session{
		Room:     room,
		Peer:     peerID,
		JoinedAt: time.Now(),
	}

	collector := monitoring.NewPrometheusCollector()

	// The session reducer is created after its collaborators; handler
	// callbacks close over the variable and fire only once the session
	// has connected.
	var session *services.SessionService

	client := signalinfra.NewClient(signalinfra.ClientConfig{
		RelayURL:       cfg.Station.RelayURL,
		Peer:           peerID,
		Token:          os.Getenv("COMLINK_ROOM_TOKEN"),
		Callsign:       cfg.Station.Callsign,
		ConnectTimeout: cfg.Station.ConnectTimeout,
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  -1,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, signalinfra.Handler{
		OnUp:   func() { session.HandleSignalingUp() },
		OnDown: func(reason string) { session.HandleSignalingDown(reason) },
		OnPeerJoined: func(peer domain.PeerID) {
			session.HandlePeerJoined(peer)
		},
		OnOffer: func(from domain.PeerID, offer webrtc.SessionDescription) {
			session.HandleOffer(from, offer)
		},
		OnAnswer: func(from domain.PeerID, answer webrtc.SessionDescription) {
			session.HandleAnswer(answer)
		},
		OnCandidate: func(from domain.PeerID, candidate webrtc.ICECandidateInit) {
			session.HandleCandidate(candidate)
		},
		OnChat: func(from domain.PeerID, messageID int64, text string, sentAt time.Time) {
			session.HandleChat(from, text, messageID)
		},
		OnAlert: func(from domain.PeerID, level domain.AlertLevel, text string, at time.Time) {
			session.HandleRemoteAlert(level, text, at)
		},
	}, log)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	peerCfg := webrtcinfra.PeerConfig{
		ICEServers:         iceServers,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
		Beacon:             cfg.WebRTC.Beacon,
	}
	transport := webrtcinfra.NewPeerManager(peerCfg, client, func(state domain.PeerLinkState) {
		collector.RecordPeerLinkState(state)
		session.HandlePeerState(state)
	}, log)

	alerts := services.NewAlertBus(client, nil, room, cfg.Failover.AlertHistoryLimit, log)
	alerts.SetObserver(func(alert domain.Alert) {
		collector.RecordAlert(alert.Level)
	})
	risk := services.NewRiskService()
	failover := services.NewFailoverService(services.FailoverConfig{
		AlertThrottle:    cfg.Failover.AlertThrottle,
		BackoffBase:      cfg.Failover.BackoffBase,
		BackoffCap:       cfg.Failover.BackoffCap,
		BackoffMaxExp:    cfg.Failover.BackoffMaxExp,
		EngageRiskScore:  cfg.Failover.EngageRiskScore,
		RecoverRiskScore: cfg.Failover.RecoverRiskScore,
	}, transport, alerts, log)

	session = services.NewSessionService(sess, client, transport, risk, failover, alerts, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		log.Fatalw("failed to start session", "room", room, "peer_id", peerID, "error", err)
	}
	defer session.Close()

	log.Infow("station online", "room", room, "peer_id", peerID, "relay_url", cfg.Station.RelayURL)

	poller := webrtcinfra.NewStatsPoller(transport, func(sample domain.StatsSample) {
		session.HandleStats(sample)
	}, cfg.Failover.StatsInterval, log)
	go poller.Run(ctx)

	go publishMetrics(ctx, session, collector, cfg.Failover.StatsInterval)

	if addr := cfg.Station.MetricsAddress; addr != "" {
		go serveStatus(addr, session, alerts, sess.JoinedAt, cfg, log)
	}

	<-ctx.Done()
	log.Info("station shutting down")
}

// publishMetrics mirrors the session snapshot into the Prometheus gauges.
func publishMetrics(ctx context.Context, session *services.SessionService, collector *monitoring.PrometheusCollector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := session.Snapshot()
			collector.RecordAssessment(snap.Risk, snap.LastStats)
			collector.RecordRelayEngaged(snap.Failover.RelayEngaged)
			collector.RecordReconnectAttempts(snap.Failover.ReconnectAttempts)
		}
	}
}

// serveStatus exposes /metrics, /status and /alerts for the operator console.
func serveStatus(addr string, session *services.SessionService, alerts *services.AlertBus, startedAt time.Time, cfg *config.Config, log *zap.SugaredLogger) {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.GET("/status", func(c *gin.Context) {
		snap := session.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"room":            snap.Room,
			"remote_peer":     snap.RemotePeer,
			"peer_link":       snap.Peer,
			"signaling":       snap.Signaling,
			"risk_score":      snap.Risk.Score,
			"probable_cause":  snap.Risk.Cause.Description(),
			"relay_engaged":   snap.Failover.RelayEngaged,
			"reconnect_tries": snap.Failover.ReconnectAttempts,
			"rtt_ms":          snap.LastStats.RoundTripTime.Milliseconds(),
			"jitter_ms":       snap.LastStats.Jitter.Milliseconds(),
			"loss_pct":        snap.LastStats.LossPercent(),
			"uptime":          utils.FormatDuration(time.Since(startedAt)),
		})
	})

	router.GET("/alerts", func(c *gin.Context) {
		recent := alerts.Recent(100)
		feed := make([]gin.H, 0, len(recent))
		for _, a := range recent {
			feed = append(feed, gin.H{
				"id":     a.ID,
				"level":  a.Level,
				"text":   a.Text,
				"origin": a.Origin,
				"at":     utils.FormatClock(a.Timestamp),
			})
		}
		c.JSON(http.StatusOK, gin.H{"alerts": feed})
	})

	if err := router.Run(addr); err != nil {
		log.Errorw("status server failed", "error", err)
	}
}
