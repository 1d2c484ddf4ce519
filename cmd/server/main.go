package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/crop-market/internal/adapter/handler"
	"github.com/rl1809/crop-market/internal/adapter/identity"
	"github.com/rl1809/crop-market/internal/adapter/storage"
	"github.com/rl1809/crop-market/internal/config"
	"github.com/rl1809/crop-market/internal/core/service"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/platform/tracing"
	"github.com/rl1809/crop-market/internal/port"
)

type cacheRepository interface {
	port.StatsRepository
	port.IdempotencyRepository
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "crop-market: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Listing store
	var listings port.ListingRepository
	switch cfg.Store {
	case config.StoreMySQL:
		db, err := openMySQL(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		listings = storage.NewMySQLAdapter(db)
	default:
		log.Warn("using in-memory listing store, data is lost on restart")
		listings = storage.NewMemoryAdapter()
	}

	// Stats and idempotency
	var cache cacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		log.Info("connected to redis", "addr", cfg.RedisAddr)
		cache = storage.NewRedisAdapter(rdb)
	} else {
		cache = storage.NewMemoryCacheAdapter()
	}

	projector := service.NewStatsProjector(cache, log.With("component", "stats"), cfg.StatsQueueSize)
	projector.Start(cfg.StatsWorkers)

	opts := []service.Option{
		service.WithAcceptGuard(cfg.Guard()),
		service.WithIdempotency(cache),
		service.WithLogger(log.With("component", "service")),
	}
	interestService := service.NewInterestService(listings, projector, opts...)
	listingService := service.NewListingService(listings, projector, opts...)
	log.Info("accept guard configured", "guard", interestService.Guard())

	verifier := identity.NewJWTVerifier(cfg.JWTSecret)

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log.With("component", "grpc")),
		handler.AuthInterceptor(verifier),
	))
	handler.RegisterInterestServiceServer(grpcServer, handler.NewGRPCHandler(interestService, log))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	// HTTP
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		Handler:        handler.NewHTTPHandler(interestService, listingService, projector, log),
		AuthMiddleware: handler.NewAuthMiddleware(log, verifier),
		SubmitLimiter:  handler.NewRateLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst),
		Log:            log.With("component", "http"),
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", "error", err)
		}
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")

		projector.Close()
		log.Info("stats workers stopped", "dropped", projector.Dropped(), "failed", projector.Failed())

		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("connections closed")
	return nil
}

func openMySQL(ctx context.Context, cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQLConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	log.Info("connected to mysql")

	applied, err := storage.Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("schema up to date", "applied", applied)
	return db, nil
}
