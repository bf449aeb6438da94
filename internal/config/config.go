package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Dispatch modes select how a created job reaches an executor.
const (
	DispatchLocal    = "local"
	DispatchPubSub   = "pubsub"
	DispatchWorkflow = "workflow"
)

// Config holds every setting of the onboarding service and runner.
type Config struct {
	ProjectID string `envconfig:"PROJECT_ID" required:"true"`
	Bucket    string `envconfig:"GCS_BUCKET_NAME" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	// PublicBaseURL prefixes status links and workflow callbacks.
	PublicBaseURL  string   `envconfig:"PUBLIC_BASE_URL"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	SignedURLTTL time.Duration `envconfig:"SIGNED_URL_TTL" default:"60m"`
	LogoURLTTL   time.Duration `envconfig:"LOGO_URL_TTL" default:"168h"`

	Search   SearchConfig
	DB       DBConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Pipeline PipelineConfig
	Vertex   VertexConfig

	FirestoreCollection string `envconfig:"FIRESTORE_COLLECTION" default:"onboarding_jobs"`
}

type SearchConfig struct {
	Location        string        `envconfig:"SEARCH_LOCATION" default:"global"`
	Collection      string        `envconfig:"SEARCH_COLLECTION" default:"default_collection"`
	RequestTimeout  time.Duration `envconfig:"SEARCH_REQUEST_TIMEOUT" default:"60s"`
	CreateTimeout   time.Duration `envconfig:"DATASTORE_CREATE_TIMEOUT" default:"5m"`
	ContentRequired bool          `envconfig:"SEARCH_CONTENT_REQUIRED" default:"true"`
}

type DBConfig struct {
	Driver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DSN    string `envconfig:"DATABASE_DSN"`
}

type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"MERCHANT_LOCK_TTL" default:"30s"`
}

type DispatchConfig struct {
	Mode             string `envconfig:"DISPATCH_MODE" default:"local"`
	PubSubTopic      string `envconfig:"PUBSUB_TOPIC" default:"onboarding-jobs"`
	WorkflowID       string `envconfig:"WORKFLOW_ID" default:"merchant-onboarding"`
	WorkflowLocation string `envconfig:"WORKFLOW_LOCATION" default:"us-central1"`
	WorkerCount      int    `envconfig:"WORKER_COUNT" default:"4"`
	QueueSize        int    `envconfig:"QUEUE_SIZE" default:"64"`
}

type PipelineConfig struct {
	DocumentWorkers  int           `envconfig:"DOCUMENT_WORKERS" default:"8"`
	ChunkSize        int           `envconfig:"CHUNK_SIZE" default:"10000"`
	ActiveJobTimeout time.Duration `envconfig:"ACTIVE_JOB_TIMEOUT" default:"2h"`
	StorageTimeout   time.Duration `envconfig:"STORAGE_REQUEST_TIMEOUT" default:"60s"`
}

type VertexConfig struct {
	Region string `envconfig:"VERTEX_AI_REGION" default:"us-central1"`
	// TranscribeModel enables the PDF transcription fallback when set.
	TranscribeModel string `envconfig:"PDF_TRANSCRIBE_MODEL"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env file.")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Dispatch.Mode {
	case DispatchLocal, DispatchPubSub:
	case DispatchWorkflow:
		if c.PublicBaseURL == "" {
			return fmt.Errorf("PUBLIC_BASE_URL must be set when DISPATCH_MODE=%s", DispatchWorkflow)
		}
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.Dispatch.Mode)
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DB.Driver)
	}
	if c.DB.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("DATABASE_DSN must be set for postgres")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
