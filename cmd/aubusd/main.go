package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/internal/dispatch"
	"github.com/JawadKotaichh/AUBus-sub000/internal/gateway"
	"github.com/JawadKotaichh/AUBus-sub000/internal/maps"
	"github.com/JawadKotaichh/AUBus-sub000/internal/rides"
	"github.com/JawadKotaichh/AUBus-sub000/internal/selector"
	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/config"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/database"
	pkgerrors "github.com/JawadKotaichh/AUBus-sub000/pkg/errors"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/eventbus"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	redisclient "github.com/JawadKotaichh/AUBus-sub000/pkg/redis"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
)

const (
	serviceName = "aubus"
	version     = "1.0.0"
)

// Exit codes: 1 for configuration problems, 2 when the store is
// unreachable.
const (
	exitConfig = 1
	exitStore  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	listenPort := flag.Int("listen-port", 0, "TCP port for the JSON-lines gateway (overrides LISTEN_PORT)")
	dbPath := flag.String("db-path", "", "Postgres connection string (overrides DATABASE_URL)")
	mapEndpoint := flag.String("map-endpoint", "", "map provider base URL (overrides MAPS_ENDPOINT)")
	pendingTimeout := flag.Int("pending-timeout-seconds", 0, "seconds a driver offer stays open")
	confirmTimeout := flag.Int("confirm-timeout-seconds", 0, "seconds the rider has to confirm an accepted driver")
	fanoutWidth := flag.Int("fanout-width", 0, "concurrent live offers per request")
	flag.Parse()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfig
	}

	// Flags beat the environment, but only the ones actually set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-port":
			cfg.Server.ListenPort = *listenPort
		case "db-path":
			cfg.Database.URL = *dbPath
		case "map-endpoint":
			cfg.Maps.Endpoint = *mapEndpoint
		case "pending-timeout-seconds":
			cfg.Dispatch.PendingTimeoutSeconds = *pendingTimeout
		case "confirm-timeout-seconds":
			cfg.Dispatch.ConfirmTimeoutSeconds = *confirmTimeout
		case "fanout-width":
			cfg.Dispatch.FanoutWidth = *fanoutWidth
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitConfig
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()

	logger.Info("Starting aubus",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("listen_port", cfg.Server.ListenPort),
	)

	if cfg.Observability.SentryDSN != "" {
		sentryConfig := pkgerrors.DefaultSentryConfig()
		sentryConfig.DSN = cfg.Observability.SentryDSN
		sentryConfig.ServerName = serviceName
		sentryConfig.Release = version
		if err := pkgerrors.InitSentry(sentryConfig); err != nil {
			logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
		} else {
			defer pkgerrors.Flush(2 * time.Second)
			logger.Info("Sentry error tracking initialized")
		}
	}

	if cfg.Observability.TracingEnabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
			SampleRate:     cfg.Observability.TraceSampleRate,
			Enabled:        true,
		}, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return exitStore
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(&cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to redis, route memo disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("Failed to close redis client", zap.Error(err))
				}
			}()
			logger.Info("Connected to redis")
		}
	}

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			Name:       serviceName,
			StreamName: cfg.NATS.StreamName,
		})
		if err != nil {
			logger.Warn("Failed to connect to NATS, lifecycle events disabled", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.StreamName))
		}
	}

	mapsService, err := maps.NewService(mapsConfig(cfg), redisInterface(redisClient))
	if err != nil {
		logger.Error("Failed to initialize map adapter", zap.Error(err))
		return exitConfig
	}

	usersRepo := users.NewRepository(db)
	selectorService := selector.NewService(usersRepo, mapsService, selector.Config{
		DefaultLimit:         cfg.Dispatch.SelectorLimit,
		StalenessMinutes:     cfg.Dispatch.OnlineStalenessMinutes,
		ScheduleGraceMinutes: cfg.Dispatch.ScheduleGraceMinutes,
	})

	ridesRepo := rides.NewRepository(db)
	var ridesBus rides.Publisher
	if bus != nil {
		ridesBus = bus
	}
	ridesService := rides.NewService(ridesRepo, usersRepo, ridesBus)

	dispatchRepo := dispatch.NewRepository(db)
	var dispatchBus dispatch.Publisher
	if bus != nil {
		dispatchBus = bus
	}
	dispatchService := dispatch.NewService(dispatchRepo, selectorService, usersRepo, mapsService, dispatchBus, dispatch.Config{
		FanOutWidth:    cfg.Dispatch.FanoutWidth,
		PendingTimeout: time.Duration(cfg.Dispatch.PendingTimeoutSeconds) * time.Second,
		ConfirmTimeout: time.Duration(cfg.Dispatch.ConfirmTimeoutSeconds) * time.Second,
		SweepInterval:  time.Duration(cfg.Dispatch.SweepIntervalSeconds) * time.Second,
	})

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	sweeper := dispatch.NewSweeper(dispatchService, logger.Named("sweeper"))
	go sweeper.Start(rootCtx)

	handler := gateway.NewHandler(dispatchService, ridesService, usersRepo, mapsService)
	server := gateway.NewServer(handler, logger.Named("gateway"), gateway.Options{
		IdleTimeout:   time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
	})
	if err := server.Listen(fmt.Sprintf(":%d", cfg.Server.ListenPort)); err != nil {
		logger.Error("Failed to bind gateway port", zap.Error(err))
		return exitConfig
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(rootCtx)
	}()

	var opsServer *http.Server
	if cfg.Ops.Enabled {
		opsServer = newOpsServer(cfg, db, redisClient, bus)
		go func() {
			logger.Info("Ops endpoint listening", zap.String("addr", cfg.Ops.Addr))
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Ops endpoint failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("Gateway stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway connections cut before draining", zap.Error(err))
	}
	sweeper.Stop()
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops endpoint shutdown failed", zap.Error(err))
		}
	}
	stopRoot()

	logger.Info("Stopped")
	return 0
}

// mapsConfig shapes the flat env/flag config into the adapter's own.
func mapsConfig(cfg *config.Config) maps.Config {
	primary := maps.ProviderConfig{
		Provider: maps.ProviderName(cfg.Maps.Provider),
		APIKey:   cfg.Maps.APIKey,
		BaseURL:  cfg.Maps.Endpoint,
		Timeout:  cfg.Maps.TimeoutSeconds,
	}
	var fallbacks []maps.ProviderConfig
	for _, name := range cfg.Maps.FallbackProviders {
		fallbacks = append(fallbacks, maps.ProviderConfig{
			Provider: maps.ProviderName(name),
			APIKey:   cfg.Maps.APIKey,
			Timeout:  cfg.Maps.TimeoutSeconds,
		})
	}
	return maps.Config{
		Primary:            primary,
		Fallbacks:          fallbacks,
		CacheEnabled:       cfg.Maps.CacheEnabled && cfg.Redis.Enabled,
		CacheTTLSeconds:    cfg.Maps.CacheTTLSeconds,
		CallTimeoutSeconds: cfg.Maps.TimeoutSeconds,
		Breaker: maps.BreakerConfig{
			Enabled:          cfg.Resilience.CircuitBreaker.Enabled,
			FailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.Resilience.CircuitBreaker.SuccessThreshold,
			TimeoutSeconds:   cfg.Resilience.CircuitBreaker.TimeoutSeconds,
			IntervalSeconds:  cfg.Resilience.CircuitBreaker.IntervalSeconds,
		},
	}
}

// redisInterface converts a possibly-nil client into the adapter's
// optional dependency without smuggling a typed nil into the interface.
func redisInterface(client *redisclient.Client) redisclient.ClientInterface {
	if client == nil {
		return nil
	}
	return client
}

// newOpsServer exposes health probes and Prometheus metrics on a
// plain HTTP sidecar listener, away from the TCP protocol port.
func newOpsServer(cfg *config.Config, db interface{ Ping(context.Context) error }, redisClient *redisclient.Client, bus *eventbus.Bus) *http.Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	checks := map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Client.Ping(ctx).Err()
		}
	}
	if bus != nil {
		checks["nats"] = func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, checks))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:    cfg.Ops.Addr,
		Handler: router,
	}
}
