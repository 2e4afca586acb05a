package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/aggregation"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/config"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/consolidation"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/expansion"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/hydration"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/mapper"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/repository"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/triggers"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[portfolio-agg] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, buses, storeCloser := setupInfrastructure(ctx, cfg, logger)
	defer storeCloser()

	archive, archiveCloser := setupArchive(ctx, cfg, logger)
	defer archiveCloser()

	expander := expansion.NewService(jobStore, buses.requests, logger, cfg.ExpansionMinTTL())
	aggregator := aggregation.NewAggregator(
		jobStore,
		mapper.NewJSONMapper(),
		triggers.DefaultRegistry(),
		expander,
		buses.consolidation,
		logger,
		aggregation.AggregatorConfig{
			ResultCacheTTL:   cfg.ResultCacheTTL(),
			CollateralFactor: cfg.CollateralFactor,
		},
	)

	logos := hydration.NewLogoClient(hydration.LogoClientConfig{
		BaseURL: cfg.LogoAPIBaseURL,
		Timeout: time.Duration(cfg.HydrationTimeoutMS) * time.Millisecond,
		RPS:     cfg.HydrationRPS,
		Burst:   cfg.HydrationBurst,
	})
	prices := hydration.NewPriceClient(hydration.PriceClientConfig{
		BaseURL: cfg.PriceAPIBaseURL,
		Timeout: time.Duration(cfg.HydrationTimeoutMS) * time.Millisecond,
		RPS:     cfg.HydrationRPS,
		Burst:   cfg.HydrationBurst,
	})
	consolidator := consolidation.NewWorker(jobStore, buses.completed, logos, prices, archive, logger)

	if cfg.AggregatorEnabled {
		runner := worker.NewRunner("aggregator", buses.results, aggregator.HandleMessage, logger)
		go runner.Start(ctx)
		logger.Printf("result aggregator started")
	}
	if cfg.ConsolidatorEnabled {
		runner := worker.NewRunner("consolidator", buses.consolidationConsumer, consolidator.HandleMessage, logger)
		go runner.Start(ctx)
		logger.Printf("consolidation worker started")
	}

	<-ctx.Done()
	logger.Printf("shutdown signal received")
}

type busSet struct {
	requests              bus.Publisher
	results               bus.Consumer
	consolidation         bus.Publisher
	consolidationConsumer bus.Consumer
	completed             bus.Publisher
}

func setupInfrastructure(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, busSet, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using in-memory store and local buses")
		local := localBusSet(logger, cfg.MaxAttempts)
		return store.NewMemoryJobStore(), local, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	jobStore, err := store.NewRedisJobStore(ctx, client, logger)
	if err != nil {
		logger.Printf("failed to initialize redis store, fallback to memory: %v", err)
		_ = client.Close()
		local := localBusSet(logger, cfg.MaxAttempts)
		return store.NewMemoryJobStore(), local, func() {}
	}

	streamCfg := func(stream string) bus.StreamConfig {
		return bus.StreamConfig{
			Stream:      stream,
			Group:       cfg.StreamGroup,
			Consumer:    cfg.StreamConsumer,
			MaxAttempts: cfg.MaxAttempts,
		}
	}
	requests, err := bus.NewStreamsBus(ctx, client, streamCfg(cfg.RequestStream))
	if err != nil {
		logger.Fatalf("request stream init: %v", err)
	}
	results, err := bus.NewStreamsBus(ctx, client, streamCfg(cfg.ResultStream))
	if err != nil {
		logger.Fatalf("result stream init: %v", err)
	}
	consolidationBus, err := bus.NewStreamsBus(ctx, client, streamCfg(cfg.ConsolidationStream))
	if err != nil {
		logger.Fatalf("consolidation stream init: %v", err)
	}
	completed, err := bus.NewStreamsBus(ctx, client, streamCfg(cfg.CompletedStream))
	if err != nil {
		logger.Fatalf("completed stream init: %v", err)
	}
	logger.Printf("redis store and streams initialized")

	buses := busSet{
		requests:              requests,
		results:               results,
		consolidation:         consolidationBus,
		consolidationConsumer: consolidationBus,
		completed:             completed,
	}
	return jobStore, buses, func() {
		_ = client.Close()
	}
}

func localBusSet(logger *log.Logger, maxAttempts int) busSet {
	requests := bus.NewLocalBus(512, maxAttempts, logger)
	results := bus.NewLocalBus(512, maxAttempts, logger)
	consolidationBus := bus.NewLocalBus(512, maxAttempts, logger)
	completed := bus.NewLocalBus(512, maxAttempts, logger)
	return busSet{
		requests:              requests,
		results:               results,
		consolidation:         consolidationBus,
		consolidationConsumer: consolidationBus,
		completed:             completed,
	}
}

func setupArchive(ctx context.Context, cfg config.Config, logger *log.Logger) (repository.ArchiveRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory archive")
		return repository.NewMemoryArchiveRepository(), func() {}
	}

	pgArchive, err := repository.NewPostgresArchiveRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres archive, fallback to memory: %v", err)
		return repository.NewMemoryArchiveRepository(), func() {}
	}
	logger.Printf("postgres archive initialized")
	return pgArchive, func() {
		pgArchive.Close()
	}
}
