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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/gosight/neuroloop/internal/alerts"
	"github.com/gosight/neuroloop/internal/archive"
	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/consumer"
	"github.com/gosight/neuroloop/internal/engine"
	"github.com/gosight/neuroloop/internal/enricher"
	"github.com/gosight/neuroloop/internal/handler"
	"github.com/gosight/neuroloop/internal/server"
	"github.com/gosight/neuroloop/internal/session"
	"github.com/gosight/neuroloop/internal/state"
	"github.com/gosight/neuroloop/internal/storage"
	"github.com/gosight/neuroloop/internal/validation"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/neuroloop.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Str("state_backend", cfg.State.Backend).
		Dur("aggregation_interval", cfg.Aggregation.Interval).
		Dur("health_interval", cfg.Health.Interval).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is shared by the state store, session aggregation and rate limiting
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Connected to Redis")
	}

	store, closeStore := openStateStore(ctx, cfg, rdb)
	defer closeStore()

	eng := engine.New(cfg,
		engine.WithStateStore(store),
		engine.WithReloader(reexec),
	)

	// Analytics archive
	var (
		archiver   *archive.Archiver
		sessionAgg *session.Aggregator
	)
	if cfg.ClickHouse.Addr != "" {
		ch, err := storage.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		defer ch.Close()
		log.Info().Msg("Connected to ClickHouse")

		var sessions archive.SessionUpdater
		if rdb != nil {
			sessionAgg = session.NewAggregator(rdb, ch)
			sessions = sessionAgg
			log.Info().Msg("Session aggregator initialized")
		}

		archiver = archive.NewArchiver(ch, sessions, eng.SessionID(), cfg.Batch)
		eng.OnEvent(archiver.RecordEvent)
		eng.OnAction(archiver.RecordAction)
		eng.OnInsight(archiver.RecordInsight)
	}

	// Kafka alerts
	publisher := alerts.NewPublisher(cfg.Kafka, eng.SessionID())
	if publisher != nil {
		eng.OnAction(publisher.PublishAction)
		eng.OnInsight(publisher.PublishInsight)
	}

	// gRPC health
	healthServer := server.NewHealthServer()
	eng.OnHealth(func(sys engine.SystemHealth) {
		healthServer.Update(sys.SystemHealth)
	})

	grpcServer := grpc.NewServer()
	healthServer.Register(grpcServer)

	eng.Go("grpc_server", func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to listen for gRPC")
		}
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to serve gRPC")
		}
	})

	// HTTP API
	eventEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer eventEnricher.Close()

	validator := validation.NewValidator(rdb, cfg.RateLimit)
	httpHandler := handler.NewHTTPHandler(eng, eventEnricher, validator)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eng.Go("http_server", func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	})

	// Kafka telemetry
	var kafkaConsumer *consumer.KafkaConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaConsumer = consumer.NewKafkaConsumer(cfg.Kafka, eng)
		eng.Go("kafka_consumer", func() { kafkaConsumer.Start(ctx) })
	}

	eng.Start(ctx)
	log.Info().Str("session_id", eng.SessionID()).Msg("Neuroloop started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Kafka consumer")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down HTTP server")
	}
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	eng.Stop()

	if archiver != nil {
		archiver.Stop()
	}
	if sessionAgg != nil {
		if err := sessionAgg.FlushAllSessions(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to flush sessions")
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close alert publisher")
		}
	}

	log.Info().Msg("Shutdown complete")
}

// openStateStore picks the client state backend cleared by state_reset
func openStateStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (state.Store, func()) {
	switch cfg.State.Backend {
	case "redis":
		if rdb == nil {
			log.Fatal().Msg("State backend redis requires redis.addr")
		}
		log.Info().Str("prefix", cfg.State.Prefix).Msg("Using Redis state store")
		return state.NewRedisStore(rdb, cfg.State.Prefix), func() {}

	case "postgres":
		pg, err := state.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		log.Info().Msg("Using PostgreSQL state store")
		return pg, pg.Close

	case "", "memory":
		return state.NewMemoryStore(), func() {}

	default:
		log.Fatal().Str("backend", cfg.State.Backend).Msg("Unknown state backend")
		return nil, nil
	}
}

// reexec replaces the running process with a fresh copy of itself
func reexec() {
	exe, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("Emergency reload failed")
		return
	}
	log.Warn().Str("executable", exe).Msg("Emergency reload")
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		log.Error().Err(err).Msg("Emergency reload failed")
	}
}
