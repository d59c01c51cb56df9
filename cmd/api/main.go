package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/domain"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/http/httpapi"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/joblock"
	"mediaforge/internal/orchestrator"
	"mediaforge/internal/providers"
	"mediaforge/internal/providers/minimax"
	"mediaforge/internal/providers/replicate"
	"mediaforge/internal/storage"
	"mediaforge/internal/transfer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer pool.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	clients, defaults, err := newProviderClients(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure providers")
	}

	jobs := repo.NewJobRepository(pool)
	media := transfer.New(store, logger)
	orch := orchestrator.New(jobs, clients, media, newJobLocker(cfg), orchestrator.Config{
		PollInterval:    cfg.PollInterval,
		MaxInvalidPolls: cfg.MaxInvalidPolls,
	}, logger)

	app := &handlers.App{
		Jobs:             jobs,
		Orch:             orch,
		Store:            store,
		Logger:           logger,
		DefaultProviders: defaults,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, logger))

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
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

func newProviderClients(cfg *infra.Config, logger *infra.Logger) ([]providers.Client, map[domain.JobKind]string, error) {
	var clients []providers.Client
	defaults := map[domain.JobKind]string{}

	if cfg.ReplicateAPIToken != "" {
		client, err := replicate.NewClient(replicate.Options{
			APIToken: cfg.ReplicateAPIToken,
			BaseURL:  cfg.ReplicateBaseURL,
			Model:    cfg.ReplicateModel,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		clients = append(clients, client)
		defaults[domain.JobKindImage] = client.Name()
	}

	if cfg.MinimaxAPIKey != "" {
		client, err := minimax.NewClient(minimax.Options{
			APIKey:  cfg.MinimaxAPIKey,
			BaseURL: cfg.MinimaxBaseURL,
			Model:   cfg.MinimaxModel,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		clients = append(clients, client)
		defaults[domain.JobKindVideo] = client.Name()
	}

	if len(clients) == 0 {
		return nil, nil, errors.New("no provider credentials configured")
	}
	return clients, defaults, nil
}

func newJobLocker(cfg *infra.Config) orchestrator.JobLocker {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return joblock.New(rdb, 15*time.Minute)
}
