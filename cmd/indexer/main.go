package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/hybrid-rag/internal/bootstrap"
	"github.com/kirillkom/hybrid-rag/internal/config"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/observability/logging"
	"github.com/kirillkom/hybrid-rag/internal/observability/metrics"
)

const jobTimeout = 30 * time.Minute

func main() {
	corpusPath := flag.String("corpus", "", "ingest this corpus file once and exit instead of consuming the queue")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("indexer", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("indexer")
	app, err := bootstrap.NewIndexer(ctx, cfg, logger, workerMetrics.Registry())
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	handle := func(handlerCtx context.Context, job ports.IngestJob) error {
		if !job.EnqueuedAt.IsZero() {
			workerMetrics.ObserveQueueLag("indexer", time.Since(job.EnqueuedAt))
		}
		jobCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()

		workerMetrics.StartJob()
		start := time.Now()
		report, err := app.IngestUC.IngestFile(jobCtx, job.CorpusPath)
		workerMetrics.FinishJob("indexer", report.Indexed, time.Since(start), err)
		if err != nil {
			logger.Error("ingest_job_failed", "job_id", job.ID, "corpus_path", job.CorpusPath, "error", err)
			return err
		}
		logger.Info("ingest_job_completed",
			"job_id", job.ID,
			"corpus_path", job.CorpusPath,
			"passages", report.Passages,
			"indexed", report.Indexed,
			"persisted", report.Persisted,
			"removed", report.Removed,
		)
		return nil
	}

	if *corpusPath != "" {
		if err := handle(ctx, ports.IngestJob{ID: "cli", CorpusPath: *corpusPath}); err != nil {
			os.Exit(1)
		}
		return
	}

	if app.Queue == nil {
		logger.Error("indexer_error", "error", "NATS_URL is not set and no -corpus flag was given")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("indexer_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("indexer_metrics_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("indexer_subscribed", "subject", cfg.NATSSubject)
	if err := app.Queue.SubscribeIngestJobs(ctx, handle); err != nil {
		logger.Error("indexer_subscribe_error", "error", err)
		os.Exit(1)
	}
}
