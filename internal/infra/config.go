package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	StorageBackend string
	StoragePath    string
	StorageBaseURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RedisAddr string

	MinimaxAPIKey  string
	MinimaxBaseURL string
	MinimaxModel   string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	ReplicateModel    string

	PollInterval      time.Duration
	MaxInvalidPolls   int
	WorkerConcurrency int
	WorkerIdleWait    time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StorageBackend: getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "generated-media"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		MinimaxAPIKey:  os.Getenv("MINIMAX_API_KEY"),
		MinimaxBaseURL: getEnv("MINIMAX_BASE_URL", "https://api.minimax.chat/v1"),
		MinimaxModel:   getEnv("MINIMAX_MODEL", "video-01"),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:    getEnv("REPLICATE_MODEL", "black-forest-labs/flux-schnell"),

		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 30)),
		MaxInvalidPolls:   getEnvInt("MAX_INVALID_POLLS", 10),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerIdleWait:    time.Second * time.Duration(getEnvInt("WORKER_IDLE_WAIT_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StorageBackend != "filesystem" && cfg.StorageBackend != "minio" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be filesystem or minio, got %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "minio" && cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND=minio")
	}

	if cfg.MaxInvalidPolls <= 0 {
		return nil, fmt.Errorf("MAX_INVALID_POLLS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
