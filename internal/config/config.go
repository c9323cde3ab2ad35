package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RoleAll         = "all"
	RoleCoordinator = "coordinator"
	RoleWorker      = "worker"
)

// Config holds all configuration for the import server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Drive    DriveConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	Role               string
	LogLevel           string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type JobsConfig struct {
	Store     string
	Retention time.Duration
	BatchSize int
}

type DriveConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond int
	PageSize          int
	Timeout           time.Duration
}

type StorageConfig struct {
	Provider string
	AWS      AWSConfig
	LocalDir string
}

type AWSConfig struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

type WorkerConfig struct {
	Capacity    int
	BacklogSize int
}

type DispatchConfig struct {
	Transport      string
	WorkerURL      string
	CoordinatorURL string
	NATSURL        string
	Timeout        time.Duration
	ReportTimeout  time.Duration
	MaxRetries     int
}

var validRoles = map[string]bool{
	RoleAll:         true,
	RoleCoordinator: true,
	RoleWorker:      true,
}

var validJobStores = map[string]bool{
	"memory":   true,
	"redis":    true,
	"postgres": true,
}

var validStorageProviders = map[string]bool{
	"aws":   true,
	"local": true,
}

var validTransports = map[string]bool{
	"local": true,
	"http":  true,
	"nats":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("IMPORTER_PORT", 8080),
			Env:                envString("IMPORTER_ENV", "development"),
			Role:               envString("IMPORTER_ROLE", RoleAll),
			LogLevel:           envString("LOG_LEVEL", "info"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Jobs: JobsConfig{
			Store:     envString("JOB_STORE", "memory"),
			Retention: envDuration("JOB_RETENTION", 24*time.Hour),
			BatchSize: envInt("IMPORT_BATCH_SIZE", 100),
		},
		Drive: DriveConfig{
			APIKey:            os.Getenv("GOOGLE_API_KEY"),
			BaseURL:           os.Getenv("GOOGLE_DRIVE_BASE_URL"),
			RequestsPerSecond: envInt("DRIVE_REQUESTS_PER_SECOND", 10),
			PageSize:          envInt("DRIVE_PAGE_SIZE", 1000),
			Timeout:           envDuration("DRIVE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Provider: strings.ToLower(envString("STORAGE_PROVIDER", "aws")),
			AWS: AWSConfig{
				Region:          envString("AWS_REGION", "us-east-1"),
				Bucket:          os.Getenv("AWS_BUCKET_NAME"),
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				EndpointURL:     os.Getenv("AWS_ENDPOINT_URL"),
			},
			LocalDir: envString("LOCAL_STORAGE_DIR", "data/blobs"),
		},
		Worker: WorkerConfig{
			Capacity:    envInt("WORKER_CAPACITY", 50),
			BacklogSize: envInt("WORKER_BACKLOG", 1000),
		},
		Dispatch: DispatchConfig{
			Transport:      envString("DISPATCH_TRANSPORT", "local"),
			WorkerURL:      envString("WORKER_SERVICE_URL", "http://worker-service:8080"),
			CoordinatorURL: envString("COORDINATOR_SERVICE_URL", "http://import-service:8080"),
			NATSURL:        envString("NATS_URL", "nats://localhost:4222"),
			Timeout:        envDuration("DISPATCH_TIMEOUT", 5*time.Second),
			ReportTimeout:  envDuration("REPORT_TIMEOUT", 30*time.Second),
			MaxRetries:     envInt("DISPATCH_MAX_RETRIES", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RunsCoordinator reports whether this process hosts the job coordinator.
func (c *Config) RunsCoordinator() bool {
	return c.Server.Role == RoleAll || c.Server.Role == RoleCoordinator
}

// RunsWorker reports whether this process hosts the worker pool.
func (c *Config) RunsWorker() bool {
	return c.Server.Role == RoleAll || c.Server.Role == RoleWorker
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !validRoles[c.Server.Role] {
		return fmt.Errorf("IMPORTER_ROLE must be one of all, coordinator, worker; got %q", c.Server.Role)
	}

	if !validJobStores[c.Jobs.Store] {
		return fmt.Errorf("JOB_STORE must be one of memory, redis, postgres; got %q", c.Jobs.Store)
	}
	if c.Jobs.Store == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when JOB_STORE is redis")
	}
	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", c.Jobs.BatchSize)
	}

	if c.Drive.APIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if c.Drive.BaseURL != "" && !hasHTTPScheme(c.Drive.BaseURL) {
		return fmt.Errorf("GOOGLE_DRIVE_BASE_URL must start with http:// or https://, got %q", c.Drive.BaseURL)
	}

	if !validStorageProviders[c.Storage.Provider] {
		return fmt.Errorf("STORAGE_PROVIDER must be one of aws, local; got %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "aws" && c.Storage.AWS.Bucket == "" {
		return fmt.Errorf("AWS_BUCKET_NAME is required when STORAGE_PROVIDER is aws")
	}

	if c.Worker.Capacity <= 0 {
		return fmt.Errorf("WORKER_CAPACITY must be positive, got %d", c.Worker.Capacity)
	}

	if !validTransports[c.Dispatch.Transport] {
		return fmt.Errorf("DISPATCH_TRANSPORT must be one of local, http, nats; got %q", c.Dispatch.Transport)
	}
	if c.Dispatch.Transport == "local" && c.Server.Role != RoleAll {
		return fmt.Errorf("DISPATCH_TRANSPORT local requires IMPORTER_ROLE all, got %q", c.Server.Role)
	}
	if c.Dispatch.Transport == "http" {
		if c.RunsCoordinator() && !hasHTTPScheme(c.Dispatch.WorkerURL) {
			return fmt.Errorf("WORKER_SERVICE_URL must start with http:// or https://, got %q", c.Dispatch.WorkerURL)
		}
		if c.RunsWorker() && !hasHTTPScheme(c.Dispatch.CoordinatorURL) {
			return fmt.Errorf("COORDINATOR_SERVICE_URL must start with http:// or https://, got %q", c.Dispatch.CoordinatorURL)
		}
	}

	return nil
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
