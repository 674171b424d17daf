package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-crm-workflows/internal/client"
	"github.com/pesio-ai/be-crm-workflows/internal/common/auth"
	"github.com/pesio-ai/be-crm-workflows/internal/common/config"
	"github.com/pesio-ai/be-crm-workflows/internal/common/database"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/common/middleware"
	"github.com/pesio-ai/be-crm-workflows/internal/handler"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Backend).
		Msg("Starting CRM Workflows Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: it backs the cross-instance store lock and the
	// shared review tracker.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Str("address", cfg.Redis.Address).Msg("Redis connection established")
	}

	store, closeStore, err := openStore(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open entity store")
	}
	defer closeStore()

	var tracker service.ReviewTracker = service.NewMemoryReviewTracker()
	if rdb != nil {
		tracker = service.NewRedisReviewTracker(rdb, 0)
	}

	// NATS is optional; without it notifications are dropped.
	var conn client.Conn
	if cfg.NATS.URL != "" {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		conn = nc
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}
	publisher := client.NewNotificationPublisher(conn, log)

	// Initialize services
	machine := service.NewApprovalMachine(time.Now)
	gate := service.ReviewGate{Cooldown: cfg.Workflow.ReviewCooldown}

	userService := service.NewUserService(store, machine, log)
	insuranceService := service.NewInsuranceService(store, machine, tracker, gate, publisher, log)
	leadService := service.NewLeadService(store, machine, tracker, gate, publisher, log)
	reliantBestService := service.NewReliantBestService(store, machine, log)
	bookingService := service.NewBookingService(store, machine, publisher, log)

	if err := userService.Bootstrap(ctx, cfg.Workflow.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin account")
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(userService, insuranceService, leadService, reliantBestService, bookingService, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = auth.FromHeader(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.AllowedOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcHandler := handler.NewGRPCHandler(userService, insuranceService, bookingService, log)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryServerInterceptor()))
	grpcHandler.Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStore builds the configured snapshot backend and, when Redis is
// available, serializes writers across instances with a distributed lock.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *logger.Logger) (repository.EntityStore, func(), error) {
	var store repository.EntityStore
	closeFn := func() {}

	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewSnapshotPostgresRepository(db, cfg.Store.Name)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Str("snapshot", cfg.Store.Name).Msg("Database connection established")
		store, closeFn = repo, db.Close
	default:
		store = repository.NewSnapshotFileRepository(cfg.Store.DataFile)
		log.Info().Str("path", cfg.Store.DataFile).Msg("Using file snapshot store")
	}

	if rdb != nil {
		store = repository.NewLockedStore(store, redislock.New(rdb), cfg.Store.Name, cfg.Redis.LockTTL)
		log.Info().Dur("ttl", cfg.Redis.LockTTL).Msg("Distributed store lock enabled")
	}
	return store, closeFn, nil
}
