package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notionsync/internal/api"
	"notionsync/internal/config"
	"notionsync/internal/database"
	"notionsync/internal/events"
	"notionsync/internal/logging"
	"notionsync/internal/mapping"
	"notionsync/internal/metrics"
	"notionsync/internal/notion"
	"notionsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := mapping.NewRegistry(mapping.Defaults(cfg.Notion.DatabaseIDs))
	if err != nil {
		return err
	}
	logger.Info().Strs("tables", registry.Tables()).Msg("table mappings loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	notionClient := notion.NewClient(notion.ClientOptions{
		BaseURL:           cfg.Notion.BaseURL,
		Token:             cfg.Notion.Token,
		APIVersion:        cfg.Notion.APIVersion,
		RequestsPerSecond: cfg.Notion.RequestsPerS,
	})

	pollInterval, err := time.ParseDuration(cfg.Sync.PollInterval)
	if err != nil {
		return fmt.Errorf("parse poll interval: %w", err)
	}

	var exportPath string
	if cfg.Exports.Enabled {
		exportPath = cfg.Exports.Path
	}

	manager := worker.NewManager(worker.Options{
		DB:                db,
		Notion:            notionClient,
		Registry:          registry,
		Redis:             redisClient,
		Logger:            &logger,
		BatchSize:         cfg.Sync.BatchSize,
		PollInterval:      pollInterval,
		RetentionDays:     cfg.Sync.RetentionDays,
		ProcessingTimeout: time.Duration(cfg.Sync.ProcessingTimeoutSecs) * time.Second,
		FullSyncHour:      cfg.Sync.FullSyncHour,
		FullSyncTables:    cfg.Sync.FullSyncTables,
		ExportPath:        exportPath,
	})

	bus := events.NewBus()
	manager.SubscribeBus(bus)

	go manager.Run(ctx)

	server := api.NewServer(api.ServerOptions{
		Port:          cfg.HTTP.Port,
		DB:            db,
		Queue:         manager,
		Registry:      registry,
		WebhookSecret: cfg.Notion.WebhookSecret,
		Logger:        &logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// initRedis connects the optional fast-path queue. A missing or
// unreachable redis degrades to sqlite polling, never a startup failure.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable, falling back to polling")
		client.Close()
		return nil
	}

	logger.Info().Str("address", cfg.Redis.Address).Msg("redis connected")
	return client
}
