package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comlink/internal/core/ports"
	"comlink/internal/core/services"
	httphandlers "comlink/internal/handlers/http"
	"comlink/internal/infrastructure/distributed"
	"comlink/internal/infrastructure/middleware"
	"comlink/internal/infrastructure/monitoring"
	"comlink/internal/infrastructure/reliability"
	"comlink/internal/infrastructure/repositories"
	signalinfra "comlink/internal/infrastructure/signal"
	"comlink/pkg/circuitbreaker"
	"comlink/pkg/config"
	"comlink/pkg/logger"
	"comlink/pkg/retry"
	"comlink/pkg/tracing"
	"comlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Fatalw("failed to init tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(ctx)
		}()
	}

	// Alert archive: Redis when configured and reachable, in-memory
	// otherwise. Either way it sits behind the reliability wrapper so
	// archive trouble never stalls signaling.
	factory := repositories.NewFactory(cfg, log)
	defer factory.Close()

	var alertRepo ports.AlertRepository = factory.CreateAlertRepository(cfg.Failover.AlertHistoryLimit)
	var fanout signalinfra.AlertFanout

	health := monitoring.NewHealthChecker()
	health.AddAlertArchiveCheck(alertRepo, 2*time.Second)

	var registry *distributed.RoomRegistry

	if redisClient := factory.RedisClient(); redisClient != nil {
		health.AddRedisCheck(redisClient, 2*time.Second)

		instanceID := utils.GenerateInstanceID()
		registry = distributed.NewRoomRegistry(redisClient, instanceID, log)

		bus := distributed.NewEventBus(redisClient, instanceID, log)
		fanout = bus

		go func() {
			err := bus.Subscribe(context.Background(), func(ev *distributed.Event) error {
				log.Debugw("cross-instance event", "type", ev.Type, "room", ev.Room)
				return nil
			})
			if err != nil && err != context.Canceled {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	alertRepo = reliability.NewAlertRepositoryWrapper(
		alertRepo,
		retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2.0},
		circuitbreaker.DefaultConfig(),
		log,
	)

	var tokens services.TokenService
	if cfg.Auth.Enabled {
		tokens = services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.RoomTokenTTL)
	}

	collector := monitoring.NewPrometheusCollector()

	relay := signalinfra.NewRelay(signalinfra.RelayConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxRoomClients:    cfg.Relay.MaxRoomClients,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.Signaling.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Signaling.Burst,
	}, tokens, alertRepo, fanout, collector, log)
	if registry != nil {
		relay.SetPresence(registry)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	roomHandler := httphandlers.NewRoomHandler(relay, tokens, alertRepo, health)
	if registry != nil {
		roomHandler.SetPresence(registry)
	}
	roomHandler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: router,
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			collector.SetActiveRooms(relay.RoomCount())

			refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			relay.RefreshPresence(refreshCtx)
			cancel()
		}
	}()

	go func() {
		log.Infow("relay listening", "address", cfg.Relay.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("relay server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down relay")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if registry != nil {
		if err := registry.CleanupInstance(ctx); err != nil {
			log.Warnw("presence cleanup failed", "error", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("relay shutdown failed", "error", err)
	}
}
