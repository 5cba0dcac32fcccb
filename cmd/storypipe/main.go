// Command storypipe runs the source-monitoring pipeline: the scheduler
// sweeps due items through curation, extraction and summarization, and
// an HTTP server exposes previews, health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/api"
	"github.com/storypipe/storypipe/internal/clock/system"
	"github.com/storypipe/storypipe/internal/config"
	"github.com/storypipe/storypipe/internal/curator"
	"github.com/storypipe/storypipe/internal/extract"
	sha "github.com/storypipe/storypipe/internal/hash/sha256"
	"github.com/storypipe/storypipe/internal/herald"
	heraldmemory "github.com/storypipe/storypipe/internal/herald/memory"
	heraldpubsub "github.com/storypipe/storypipe/internal/herald/pubsub"
	"github.com/storypipe/storypipe/internal/id/uuid"
	"github.com/storypipe/storypipe/internal/llm"
	"github.com/storypipe/storypipe/internal/logging"
	"github.com/storypipe/storypipe/internal/metrics"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/progress"
	"github.com/storypipe/storypipe/internal/progress/sinks"
	"github.com/storypipe/storypipe/internal/queue"
	"github.com/storypipe/storypipe/internal/reaper"
	"github.com/storypipe/storypipe/internal/retry"
	"github.com/storypipe/storypipe/internal/sage"
	"github.com/storypipe/storypipe/internal/scrape"
	gcsstorage "github.com/storypipe/storypipe/internal/storage/gcs"
	localstorage "github.com/storypipe/storypipe/internal/storage/local"
	pgstore "github.com/storypipe/storypipe/internal/store/postgres"
	"github.com/storypipe/storypipe/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a config file; environment variables override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	pool, err := pgstore.NewPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	items := pgstore.NewItemStore(pool)
	contents := pgstore.NewContentStore(pool)
	stories := pgstore.NewStoryStore(pool)
	prompts := pgstore.NewPromptStore(pool)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return err
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	clk := system.New()
	ids := uuid.New()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Curator.TimeoutSeconds) * time.Second}
	cur := curator.New(
		time.Duration(cfg.Curator.TimeoutSeconds)*time.Second,
		hub, logger,
		curator.NewTopStories(httpClient, cfg.Curator.TopStoriesURL, cfg.Curator.Concurrency, logger),
		curator.NewSearch(httpClient, cfg.Curator.SearchURL),
		curator.NewCodeFeed(httpClient),
		curator.NewDomainCheck(httpClient, cfg.Curator.DoHURL),
		curator.NewLaunches(httpClient, cfg.Curator.LaunchesURL),
	)

	scrapeQueue := queue.NewRateLimited("scrape", cfg.ScrapeInterval(), cfg.Scrape.Concurrency, logger)
	llmQueue := queue.NewRateLimited("llm", cfg.LLMInterval(), cfg.LLM.Concurrency, logger)

	scrapeRetry := retry.DefaultPolicy()
	if cfg.Scrape.MaxRetries > 0 {
		scrapeRetry.MaxAttempts = cfg.Scrape.MaxRetries
	}
	llmRetry := retry.DefaultPolicy()
	if cfg.LLM.MaxRetries > 0 {
		llmRetry.MaxAttempts = cfg.LLM.MaxRetries
	}

	reap := reaper.New(reaper.Options{
		Fetcher: reaper.NewFetcher(reaper.FetchConfig{
			UserAgent: cfg.Reaper.UserAgent,
			Timeout:   time.Duration(cfg.Reaper.TimeoutSeconds) * time.Second,
		}),
		Extractor:   extract.New(),
		Scraper:     scrape.NewClient(nil, cfg.Scrape.Endpoint, cfg.Scrape.APIKey),
		ScrapeQueue: scrapeQueue,
		Contents:    contents,
		Blobs:       blobs,
		Clock:       clk,
		IDs:         ids,
		Hasher:      sha.New(),
		Concurrency: cfg.Reaper.Concurrency,
		BlobPrefix:  cfg.Storage.Prefix,
		RetryPolicy: scrapeRetry,
		Hub:         hub,
		Logger:      logger,
	})

	llmClient := llm.NewClient(
		&http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second},
		cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.Model,
	)
	sg := sage.New(sage.Options{
		Stories:         stories,
		Prompts:         prompts,
		LLM:             llmClient,
		LLMQueue:        llmQueue,
		Clock:           clk,
		IDs:             ids,
		Concurrency:     cfg.Sage.Concurrency,
		MaxContentChars: cfg.Sage.MaxContentChars,
		RetryPolicy:     llmRetry,
		Hub:             hub,
		Logger:          logger,
	})

	notifier := herald.NewNotifier(publisher, cfg.Herald.Topic, logger)

	sweeper := worker.NewSweeper(worker.Options{
		Items:             items,
		Curator:           cur,
		Reaper:            reap,
		Sage:              sg,
		Notifier:          notifier,
		Clock:             clk,
		CountPollInterval: cfg.CountPollInterval(),
		Hub:               hub,
		Logger:            logger,
	})
	runner, err := worker.NewRunner(cfg.Sweep.CronSpec, sweeper, logger)
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop(30 * time.Second)

	apiServer := api.NewServer(cur, reap, sg, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("storypipe started", zap.String("sweep", cfg.Sweep.CronSpec))
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (pipeline.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	}
}

// newPublisher selects the downstream hand-off. Without a configured
// project the in-memory publisher keeps local runs self-contained.
func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, error) {
	if cfg.Herald.ProjectID == "" || cfg.Herald.Topic == "" {
		logger.Info("herald not configured, using in-memory publisher")
		return heraldmemory.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Herald.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return heraldpubsub.New(client), nil
}
