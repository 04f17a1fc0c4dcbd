package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	ModeSync  = "sync"
	ModeQueue = "queue"

	StorePostgres = "postgres"
	StoreMemory   = "memory"

	DedupMemory = "memory"
	DedupRedis  = "redis"
)

type Common struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

type Database struct {
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN       string `envconfig:"DB_DSN"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	PoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	PoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	PoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	PoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	PoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

type Providers struct {
	EvolutionBaseURL   string        `envconfig:"EVOLUTION_BASE_URL" required:"true"`
	EvolutionAPIKey    string        `envconfig:"EVOLUTION_API_KEY" required:"true"`
	EvolutionSendDelay int           `envconfig:"EVOLUTION_SEND_DELAY_MS" default:"1200"`
	EvolutionRPSPerPod float64       `envconfig:"EVOLUTION_RPS_PER_POD" default:"20"`
	EvolutionBurst     int           `envconfig:"EVOLUTION_BURST" default:"40"`
	HelpdeskBaseURL    string        `envconfig:"HELPDESK_BASE_URL" required:"true"`
	HelpdeskRPSPerPod  float64       `envconfig:"HELPDESK_RPS_PER_POD" default:"20"`
	HelpdeskBurst      int           `envconfig:"HELPDESK_BURST" default:"40"`
	ProviderTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"20s"`
}

// Relaying holds the knobs shared by the in-request relay and the worker.
type Relaying struct {
	DedupBackend           string        `envconfig:"DEDUP_BACKEND" default:"memory"`
	DedupTTL               time.Duration `envconfig:"DEDUP_TTL" default:"10m"`
	RedisURL               string        `envconfig:"REDIS_URL"`
	ReuseOpenConversations bool          `envconfig:"REUSE_OPEN_CONVERSATIONS" default:"true"`
}

type Queue struct {
	AWSRegion          string `envconfig:"AWS_REGION"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"120"`
	SQSGroupBuckets    int    `envconfig:"SQS_GROUP_BUCKETS" default:"256"`
}

// FIFO reports whether the queue needs message group ids.
func (q Queue) FIFO() bool { return strings.HasSuffix(q.SQSQueueURL, ".fifo") }

type RelayConfig struct {
	Common
	Database
	Providers
	Relaying
	Queue

	RelayMode             string `envconfig:"RELAY_MODE" default:"sync"`
	HelpdeskWebhookSecret string `envconfig:"HELPDESK_WEBHOOK_SECRET" required:"true"`
	WhatsAppWebhookSecret string `envconfig:"WHATSAPP_WEBHOOK_SECRET"`
	AdminAPIKey           string `envconfig:"ADMIN_API_KEY"`
	PublicBaseURL         string `envconfig:"PUBLIC_BASE_URL"`
}

type WorkerConfig struct {
	Common
	Database
	Providers
	Relaying
	Queue

	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"20"`
	JobTimeout        time.Duration `envconfig:"WORKER_JOB_TIMEOUT" default:"90s"`
}

type MockConfig struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	// MockEvolutionAPI selects which route generation answers: "v1" or "v2".
	MockEvolutionAPI string `envconfig:"MOCK_EVOLUTION_API" default:"v1"`
	MockAPIKey       string `envconfig:"MOCK_API_KEY" default:"mock-key"`
	MockDelayMs      int    `envconfig:"MOCK_DELAY_MS" default:"0"`
	// MockWebhookURL receives an outgoing-message webhook for every message posted by an agent.
	MockWebhookURL string `envconfig:"MOCK_WEBHOOK_URL"`
}

func (d Database) validate() error {
	switch d.StoreDriver {
	case StorePostgres:
		if d.DBDSN == "" {
			return errors.New("DB_DSN is required for STORE_DRIVER=postgres")
		}
	case StoreMemory:
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	return nil
}

func (r Relaying) validate() error {
	switch r.DedupBackend {
	case DedupMemory:
	case DedupRedis:
		if r.RedisURL == "" {
			return errors.New("REDIS_URL is required for DEDUP_BACKEND=redis")
		}
	default:
		return errors.New("DEDUP_BACKEND must be memory or redis")
	}
	return nil
}

func (q Queue) validate() error {
	if q.AWSRegion == "" || q.SQSQueueURL == "" {
		return errors.New("AWS_REGION and SQS_QUEUE_URL are required")
	}
	return nil
}

func (c RelayConfig) Validate() error {
	if c.HelpdeskWebhookSecret == "" {
		return errors.New("HELPDESK_WEBHOOK_SECRET must not be empty")
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Relaying.validate(); err != nil {
		return err
	}
	switch c.RelayMode {
	case ModeSync:
	case ModeQueue:
		if err := c.Queue.validate(); err != nil {
			return err
		}
	default:
		return errors.New("RELAY_MODE must be sync or queue")
	}
	return nil
}

func (c WorkerConfig) Validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Relaying.validate(); err != nil {
		return err
	}
	return c.Queue.validate()
}

func LoadRelay() RelayConfig {
	var cfg RelayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadMock() MockConfig {
	var cfg MockConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
