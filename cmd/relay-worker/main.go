package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medrelay/internal/app"
	"medrelay/internal/awsutil"
	"medrelay/internal/config"
	"medrelay/internal/httpserver"
	"medrelay/internal/logging"
	"medrelay/internal/observability"
	sqsqueue "medrelay/internal/queue/sqs"
	"medrelay/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("relay-worker", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Build(ctx, cfg.Database, cfg.Providers, cfg.Relaying)
	if err != nil {
		slog.Error("worker init failed", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueCheck := awsutil.QueueReachable(sqsClient, cfg.SQSQueueURL)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	err = queueCheck(startupCtx)
	startupCancel()
	if err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS:               sqsClient,
		QueueURL:          cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}
	dispatcher := &worker.Dispatcher{
		Inbound: deps.Inbound(cfg.ReuseOpenConversations),
		// the secret was checked when the webhook was accepted
		Outbound:   deps.Outbound(""),
		JobTimeout: cfg.JobTimeout,
	}

	health := httpserver.New()
	health.RegisterHealth(2*time.Second, append(deps.Checks, queueCheck)...)
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: health.Handler()}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	serveErrCh := make(chan error, 2)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		serveErrCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("worker metrics listening", "port", cfg.MetricsPort)
		serveErrCh <- metricsSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSQueueURL, "concurrency", cfg.WorkerConcurrency)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, dispatcher.Process)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker poll failed", "err", err)
			exitCode = 1
		}
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker http server failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(cfg.JobTimeout):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}

	if exitCode != 0 {
		deps.Close()
		os.Exit(exitCode)
	}
}
