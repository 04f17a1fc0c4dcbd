package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medrelay/internal/app"
	"medrelay/internal/awsutil"
	"medrelay/internal/config"
	"medrelay/internal/httpserver"
	"medrelay/internal/logging"
	"medrelay/internal/observability"
	sqsqueue "medrelay/internal/queue/sqs"
)

func main() {
	cfg := config.LoadRelay()
	logging.Init("relay", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Build(ctx, cfg.Database, cfg.Providers, cfg.Relaying)
	if err != nil {
		slog.Error("relay init failed", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	observability.Register(prometheus.DefaultRegisterer)

	webhooks := &httpserver.Webhooks{
		Inbound:       deps.Inbound(cfg.ReuseOpenConversations),
		Outbound:      deps.Outbound(cfg.HelpdeskWebhookSecret),
		InboundSecret: cfg.WhatsAppWebhookSecret,
	}
	checks := deps.Checks
	if cfg.RelayMode == config.ModeQueue {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("relay sqs client init failed", "err", err)
			os.Exit(1)
		}
		webhooks.Queue = &sqsqueue.Producer{
			SQS:          sqsClient,
			QueueURL:     cfg.SQSQueueURL,
			FIFO:         cfg.Queue.FIFO(),
			GroupBuckets: cfg.SQSGroupBuckets,
		}
		checks = append(checks, awsutil.QueueReachable(sqsClient, cfg.SQSQueueURL))
	}

	s := httpserver.New()
	webhooks.Register(s.Mux)
	admin := &httpserver.Admin{
		Tenants:        deps.Tenants,
		WhatsApp:       deps.WhatsApp,
		Helpdesk:       deps.Helpdesk,
		Key:            cfg.AdminAPIKey,
		PublicBaseURL:  cfg.PublicBaseURL,
		InboundSecret:  cfg.WhatsAppWebhookSecret,
		HelpdeskSecret: cfg.HelpdeskWebhookSecret,
		Validate:       validator.New(),
	}
	admin.Register(s.Mux)
	s.RegisterHealth(2*time.Second, checks...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("relay metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("relay listening", "port", cfg.Port, "mode", cfg.RelayMode, "store", cfg.StoreDriver, "dedup", cfg.DedupBackend)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("relay server failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		slog.Info("relay shutdown", "signal", sig.String())
	}

	// in-flight relays finish or hit their provider timeouts
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	cancel()

	if exitCode != 0 {
		deps.Close()
		os.Exit(exitCode)
	}
}
