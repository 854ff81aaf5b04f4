package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8000

	// Database
	PostgresDSN string

	// Cache / result store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration // 0 keeps results until deleted

	// Queue
	QueueBackend   string // "redis" or "sqs"
	QueueName      string // default: task_queue
	QueueGroup     string // default: workers
	QueueClaimIdle time.Duration
	SQSQueueURL    string
	AWSRegion      string

	// Workers
	WorkerCount         int
	WorkerID            string
	ImageFetchTimeout   time.Duration
	MaxImageBytes       int64
	InferenceTimeout    time.Duration
	StoreTimeout        time.Duration
	RecordFetchFailures bool

	// Providers
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Model           string
	DefaultPrompt   string

	// Object detection
	DetectModel       string
	DetectWeightsPath string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             slog.Level
	LogFile              string

	// Rate Limiting
	SubmitRateLimitPerMin int64
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8000"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		QueueBackend:         strings.ToLower(getEnv("QUEUE_BACKEND", "redis")),
		QueueName:            getEnv("QUEUE_NAME", "task_queue"),
		QueueGroup:           getEnv("QUEUE_GROUP", "workers"),
		SQSQueueURL:          os.Getenv("SQS_QUEUE_URL"),
		AWSRegion:            os.Getenv("AWS_REGION"),
		WorkerID:             os.Getenv("WORKER_ID"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		Model:                getEnv("LLM_MODEL", "gemini-2.5-flash"),
		DefaultPrompt:        getEnv("DEFAULT_PROMPT", "Describe this image..."),
		DetectModel:          getEnv("DETECT_MODEL", "yolov8n"),
		DetectWeightsPath:    getEnv("DETECT_WEIGHTS_PATH", "yolov8n.pt"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogFile:              os.Getenv("LOG_FILE"),
		LogLevel:             parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}

	maxBytes, err := getInt("MAX_IMAGE_BYTES", 20<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxImageBytes = int64(maxBytes)

	rpm, err := getInt("SUBMIT_RATE_LIMIT_PER_MIN", 600)
	if err != nil {
		return nil, err
	}
	cfg.SubmitRateLimitPerMin = int64(rpm)

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"RESULT_TTL", "0s", &cfg.ResultTTL},
		{"QUEUE_CLAIM_IDLE", "5m", &cfg.QueueClaimIdle},
		{"IMAGE_FETCH_TIMEOUT", "15s", &cfg.ImageFetchTimeout},
		{"INFERENCE_TIMEOUT", "2m", &cfg.InferenceTimeout},
		{"STORE_TIMEOUT", "10s", &cfg.StoreTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	// INFERENCE_TIMEOUT=0 disables the inference deadline; the others must be set.
	switch {
	case cfg.MaxImageBytes <= 0:
		return nil, fmt.Errorf("MAX_IMAGE_BYTES must be positive, got %d", cfg.MaxImageBytes)
	case cfg.ImageFetchTimeout <= 0:
		return nil, fmt.Errorf("IMAGE_FETCH_TIMEOUT must be positive, got %s", cfg.ImageFetchTimeout)
	case cfg.StoreTimeout <= 0:
		return nil, fmt.Errorf("STORE_TIMEOUT must be positive, got %s", cfg.StoreTimeout)
	case cfg.InferenceTimeout < 0:
		return nil, fmt.Errorf("INFERENCE_TIMEOUT must not be negative, got %s", cfg.InferenceTimeout)
	case cfg.QueueClaimIdle < 0:
		return nil, fmt.Errorf("QUEUE_CLAIM_IDLE must not be negative, got %s", cfg.QueueClaimIdle)
	case cfg.ResultTTL < 0:
		return nil, fmt.Errorf("RESULT_TTL must not be negative, got %s", cfg.ResultTTL)
	}

	cfg.RecordFetchFailures, err = strconv.ParseBool(getEnv("RECORD_FETCH_FAILURES", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECORD_FETCH_FAILURES: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	switch cfg.QueueBackend {
	case "redis":
	case "sqs":
		if cfg.SQSQueueURL == "" {
			return nil, fmt.Errorf("SQS_QUEUE_URL is required when QUEUE_BACKEND=sqs")
		}
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.WorkerID = host + ":" + strconv.Itoa(os.Getpid())
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
