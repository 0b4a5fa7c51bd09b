package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	httphandlers "roomrelay/internal/handlers/http"
	"roomrelay/internal/infrastructure/distributed"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/internal/infrastructure/monitoring"
	"roomrelay/internal/infrastructure/reliability"
	"roomrelay/internal/infrastructure/repositories"
	relay "roomrelay/internal/infrastructure/signal"
	"roomrelay/pkg/circuitbreaker"
	"roomrelay/pkg/config"
	"roomrelay/pkg/logger"
	"roomrelay/pkg/retry"
	"roomrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	readinessTimeout = 2 * time.Second
	historyCacheTTL  = 30 * time.Second

	eventBatchSize     = 64
	eventBatchInterval = 100 * time.Millisecond
)

var subscribeBackoff = retry.Config{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startTime := time.Now()

	cfg, cfgPath, err := config.LoadFirst(config.DefaultPaths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if cfgPath == "" {
		log.Info("no config file found, using defaults")
	} else {
		log.Infow("loaded config", "path", cfgPath)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = cfg.Tracing.ServiceName
	tracingCfg.JaegerURL = cfg.Tracing.JaegerEndpoint
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create repository factory: %w", err)
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()

	collector := monitoring.NewPrometheusCollector(nil)

	comments := reliability.NewCommentRepositoryWrapper(
		repoFactory.CreateCommentRepository(),
		retryConfig(cfg),
		circuitbreaker.Config{
			FailureThreshold:    cfg.Reliability.FailureThreshold,
			SuccessThreshold:    cfg.Reliability.SuccessThreshold,
			Timeout:             cfg.Reliability.BreakerTimeout,
			MaxRequestsHalfOpen: 1,
		},
		log,
	)
	comments.ObserveBreaker(func(state circuitbreaker.State) {
		collector.SetBreakerState("comment_store", float64(state))
	})

	registry := services.NewRoomRegistry(comments, cfg.Persistence.OperationTimeout, log)
	history := services.NewCommentHistory(registry, comments, historyCacheTTL)
	defer history.Stop()
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	credentials := services.NewCredentialService(repoFactory.CreateUserRepository(), bcrypt.DefaultCost, log)

	instanceID := uuid.NewString()
	var (
		events   ports.RoomEventPublisher
		eventBus *distributed.EventBus
	)
	if cfg.Events.Enabled {
		if client := repoFactory.RedisClient(); client != nil {
			eventBus = distributed.NewEventBus(client, instanceID, cfg.Events.Channel, log)
			publisher := distributed.NewBatchedPublisher(eventBus, eventBatchSize, eventBatchInterval, log)
			defer publisher.Stop()
			events = publisher
		} else {
			log.Warn("room events enabled but redis is unavailable, events disabled")
		}
	}

	broadcaster := relay.NewBroadcaster(collector, log)
	router := relay.NewRouter(registry, broadcaster, events, relay.RouterConfig{
		EchoComments: cfg.Signal.EchoComments,
		InstanceID:   instanceID,
	}, collector, log)

	connCfg := relay.ConnectionConfig{
		SendQueueSize:  cfg.Signal.SendQueueSize,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		PingInterval:   cfg.Signal.PingInterval,
		MaxMissedPings: cfg.Signal.MaxMissedPings,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
	}
	if cfg.RateLimiting.Enabled {
		connCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		connCfg.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	// Sockets outlive the signal context; Shutdown closes them explicitly.
	wsServer := relay.NewWebSocketServer(context.Background(), router, authService, relay.ServerConfig{
		Connection:     connCfg,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		RequireToken:   cfg.Auth.RequireToken,
	}, collector, log)

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck("comment_store", repoFactory.HealthCheck, readinessTimeout)
	health.AddBreakerCheck("comment_store_breaker", comments.BreakerState)
	if client := repoFactory.RedisClient(); client != nil && repoFactory.Backend() != repositories.BackendRedis {
		health.AddRedisCheck(client, readinessTimeout)
	}

	engine := newEngine(cfg, log, startTime, wsServer, health, registry, collector)
	httphandlers.NewAuthHandler(authService, credentials, cfg.Auth.AccessTokenTTL).SetupRoutes(engine)
	httphandlers.NewRoomHandler(registry, history, authService, cfg.WebRTC.ICEServers).SetupRoutes(engine)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("starting roomrelay server", "address", cfg.Server.Address, "backend", repoFactory.Backend(), "instance_id", instanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return registry.RunSweeper(gctx, cfg.Signal.SweepInterval, cfg.Signal.FormingRoomTTL)
	})
	if eventBus != nil {
		g.Go(func() error {
			eventBus.Listen(gctx, subscribeBackoff, eventBus.LogRemoteEvent)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down roomrelay server")
		return shutdown(srv, wsServer, tp, cfg.Server.ShutdownTimeout, log)
	})

	if err := g.Wait(); err != nil {
		log.Errorw("server stopped with error", "error", err)
		return err
	}
	log.Info("roomrelay server stopped")
	return nil
}

func retryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.Enabled = cfg.Reliability.MaxRetries > 0
	rc.MaxAttempts = cfg.Reliability.MaxRetries
	rc.InitialDelay = cfg.Reliability.InitialBackoff
	rc.MaxDelay = cfg.Reliability.MaxBackoff
	return rc
}

func newEngine(
	cfg *config.Config,
	log *zap.SugaredLogger,
	startTime time.Time,
	wsServer *relay.WebSocketServer,
	health *monitoring.HealthChecker,
	registry *services.RoomRegistry,
	collector *monitoring.PrometheusCollector,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.RecoveryMiddleware(log))

	// Registered ahead of the HTTP middleware: an upgraded socket would
	// otherwise hold a concurrency slot for its whole lifetime.
	engine.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	engine.Use(
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
			"rooms":       registry.Count(),
		})
	})

	engine.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		engine.GET("/metrics", func(c *gin.Context) {
			collector.SetRooms(registry.Count())
			promhttp.Handler().ServeHTTP(c.Writer, c.Request)
		})
		log.Info("prometheus metrics enabled")
	}

	return engine
}

// shutdown drains rooms and sockets before stopping the HTTP listener, so
// every peer gets a room-closed notice.
func shutdown(
	srv *http.Server,
	wsServer *relay.WebSocketServer,
	tp *tracing.TracerProvider,
	timeout time.Duration,
	log *zap.SugaredLogger,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := wsServer.Shutdown(ctx); err != nil {
		log.Warnw("websocket drain incomplete", "error", err, "remaining", wsServer.ConnectionCount())
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}
	return nil
}
