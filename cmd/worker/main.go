package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/joblock"
	"mediaforge/internal/orchestrator"
	"mediaforge/internal/providers"
	"mediaforge/internal/providers/minimax"
	"mediaforge/internal/providers/replicate"
	"mediaforge/internal/storage"
	"mediaforge/internal/transfer"
	"mediaforge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	clients, err := newProviderClients(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure providers")
	}

	jobs := repo.NewJobRepository(pool)
	media := transfer.New(store, logger)
	orch := orchestrator.New(jobs, clients, media, newJobLocker(cfg), orchestrator.Config{
		PollInterval:    cfg.PollInterval,
		MaxInvalidPolls: cfg.MaxInvalidPolls,
	}, logger)

	workers := worker.New(jobs, orch, cfg.WorkerConcurrency, cfg.WorkerIdleWait, logger)
	if err := workers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func newBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}

func newProviderClients(cfg *infra.Config, logger *infra.Logger) ([]providers.Client, error) {
	var clients []providers.Client

	if cfg.ReplicateAPIToken != "" {
		client, err := replicate.NewClient(replicate.Options{
			APIToken: cfg.ReplicateAPIToken,
			BaseURL:  cfg.ReplicateBaseURL,
			Model:    cfg.ReplicateModel,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if cfg.MinimaxAPIKey != "" {
		client, err := minimax.NewClient(minimax.Options{
			APIKey:  cfg.MinimaxAPIKey,
			BaseURL: cfg.MinimaxBaseURL,
			Model:   cfg.MinimaxModel,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no provider credentials configured")
	}
	return clients, nil
}

func newJobLocker(cfg *infra.Config) orchestrator.JobLocker {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return joblock.New(rdb, 15*time.Minute)
}
