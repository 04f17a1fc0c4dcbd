package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("EVOLUTION_BASE_URL", "http://evolution:8080")
	t.Setenv("EVOLUTION_API_KEY", "global-key")
	t.Setenv("HELPDESK_BASE_URL", "http://chatwoot:3000")
	t.Setenv("HELPDESK_WEBHOOK_SECRET", "hd-secret")
}

func TestLoadRelayDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg := LoadRelay()
	if cfg.RelayMode != ModeSync || cfg.DedupBackend != DedupMemory || cfg.DedupTTL != 10*time.Minute {
		t.Fatalf("defaults: %+v", cfg)
	}
	if !cfg.ReuseOpenConversations || cfg.ProviderTimeout != 20*time.Second || cfg.EvolutionSendDelay != 1200 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Port != "8080" || cfg.MetricsPort != "9090" {
		t.Fatalf("ports: %s %s", cfg.Port, cfg.MetricsPort)
	}
}

func TestLoadRelayMissingSecretPanics(t *testing.T) {
	t.Setenv("EVOLUTION_BASE_URL", "http://evolution:8080")
	t.Setenv("EVOLUTION_API_KEY", "k")
	t.Setenv("HELPDESK_BASE_URL", "http://chatwoot:3000")
	t.Setenv("HELPDESK_WEBHOOK_SECRET", "")
	os.Unsetenv("HELPDESK_WEBHOOK_SECRET")
	t.Setenv("STORE_DRIVER", "memory")

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic without HELPDESK_WEBHOOK_SECRET")
		}
	}()
	LoadRelay()
}

func TestRelayValidate(t *testing.T) {
	base := RelayConfig{
		Database:              Database{StoreDriver: StorePostgres, DBDSN: "postgres://x"},
		Relaying:              Relaying{DedupBackend: DedupMemory},
		RelayMode:             ModeSync,
		HelpdeskWebhookSecret: "hd",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *RelayConfig){
		"postgres without dsn": func(c *RelayConfig) { c.DBDSN = "" },
		"unknown driver":       func(c *RelayConfig) { c.StoreDriver = "sqlite" },
		"redis without url":    func(c *RelayConfig) { c.DedupBackend = DedupRedis },
		"queue without sqs":    func(c *RelayConfig) { c.RelayMode = ModeQueue },
		"unknown mode":         func(c *RelayConfig) { c.RelayMode = "batch" },
		"empty secret":         func(c *RelayConfig) { c.HelpdeskWebhookSecret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestWorkerRequiresQueue(t *testing.T) {
	c := WorkerConfig{
		Database: Database{StoreDriver: StoreMemory},
		Relaying: Relaying{DedupBackend: DedupMemory},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("worker without queue must be rejected")
	}
	c.Queue = Queue{AWSRegion: "us-east-1", SQSQueueURL: "http://localhost:4566/000000000000/relay.fifo"}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid worker config rejected: %v", err)
	}
	if !c.FIFO() {
		t.Fatalf("fifo suffix not detected")
	}
}
