package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	// Instrumentation
	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle/services/social-service/config"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/primary/events"
	grpc_adapter "github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/primary/grpc"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/ports"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting Social Service", "config", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Postgres (primaire + réplique optionnelle)
	primary, err := newPgPool(ctx, cfg, cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer primary.Close()
	slog.Info("✅ Connected to Postgres")

	pools := repository.Pools{Primary: primary}
	if cfg.DBReplicaUrl != "" {
		replica, err := newPgPool(ctx, cfg, cfg.DBReplicaUrl)
		if err != nil {
			slog.Error("Unable to connect to read replica", "error", err)
			os.Exit(1)
		}
		defer replica.Close()
		pools.Replica = replica
		slog.Info("✅ Connected to Postgres replica")
	}

	if cfg.DBEnsureSchema {
		if err := repository.EnsureSchema(ctx, primary); err != nil {
			slog.Error("Failed to ensure schema", "error", err)
			os.Exit(1)
		}
		slog.Info("🧱 Schema ready")
	}

	// 4. Infrastructure: Redis (Feed Cache)
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		PoolSize:    cfg.RedisPoolSize,
		DialTimeout: cfg.RedisDialTimeout,
		MaxRetries:  -1, // Pas de retry : le cache est best effort
	})
	defer func() { _ = rdb.Close() }()
	// Instrumentation Redis
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		panic(err)
	}
	// Redis absent au démarrage n'est pas fatal : les lectures passent par Postgres
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("⚠️ Redis unreachable, running in degraded mode", "error", err)
	} else {
		slog.Info("✅ Connected to Redis")
	}

	feedCache := cache.NewRedisFeedCache(rdb, cache.Options{
		MarkerTTL:   cfg.FeedMarkerTTL,
		IndexTTL:    cfg.FeedIndexTTL,
		BodyTTL:     cfg.CacheTTL,
		MaxIndexLen: cfg.FeedMaxIndexLen,
	})

	// 5. Infrastructure: Event Broker NATS (optionnel)
	var publisher ports.EventPublisher = eventbroker.NoopPublisher{}
	var nc *nats.Conn
	if cfg.NatsUrl != "" {
		nc, err = nats.Connect(cfg.NatsUrl, nats.Name(cfg.ServiceName))
		if err != nil {
			slog.Error("Unable to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		natsPub, err := eventbroker.NewNatsPublisher(ctx, nc)
		if err != nil {
			slog.Error("Unable to init JetStream", "error", err)
			os.Exit(1)
		}
		publisher = natsPub
		slog.Info("✅ Connected to NATS")
	}

	// 6. Initialisation des Adapters (Driven) & du Core
	postRepo := repository.NewPostgresPostRepo(pools)
	relRepo := repository.NewPostgresRelationshipRepo(pools)

	feedService := services.NewFeedService(postRepo, relRepo, feedCache, publisher, services.FeedConfig{
		FanoutMode:        services.FanoutMode(cfg.FanoutMode),
		FanoutBatchSize:   cfg.FanoutBatchSize,
		FanoutConcurrency: cfg.FanoutConcurrency,
		MaterializeDepth:  cfg.MaterializeDepth,
	})
	relService := services.NewRelationshipService(relRepo, feedCache, publisher)

	// 7. Consumer NATS (Driving Adapter - Async)
	var handler *events.EventHandler
	if cfg.FanoutMode == string(services.FanoutAsync) {
		handler = events.NewEventHandler(feedService)
		sub, err := handler.Subscribe(nc, eventbroker.SubjectPostCreated)
		if err != nil {
			slog.Error("Failed to subscribe to NATS", "error", err)
			os.Exit(1)
		}
		defer func() { _ = sub.Drain() }()
		slog.Info("👂 Listening for events (NATS)", "subject", eventbroker.SubjectPostCreated)
	}

	// 8. Serveur gRPC (Driving Adapter - Sync) : Social API, Health Check & Reflection
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	grpc_adapter.NewServer(feedService, relService).Register(grpcServer)

	healthServer := grpc_adapter.NewHealthServer(10 * time.Second)
	healthServer.AddCheck("postgres", true, primary.Ping)
	healthServer.AddCheck("redis", false, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthServer.Register(grpcServer)
	go healthServer.Run(ctx)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	slog.Info("📡 Social Service gRPC listening", "port", cfg.GRPCPort)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if handler != nil {
		handler.Wait()
	}
	cancel()
	slog.Info("👋 Server exited")
}

// --- Helpers ---

func newPgPool(ctx context.Context, cfg *config.Config, url string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	dbConfig.MaxConns = cfg.DBMaxConns
	dbConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout
	// Instrumentation SQL (Pour voir les requêtes dans Jaeger)
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
