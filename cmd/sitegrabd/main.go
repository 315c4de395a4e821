// Package main wires together the sitegrab extraction service.
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

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/api"
	"github.com/sitegrab/sitegrab/internal/clock/system"
	"github.com/sitegrab/sitegrab/internal/config"
	"github.com/sitegrab/sitegrab/internal/fetch"
	"github.com/sitegrab/sitegrab/internal/id/uuid"
	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/logging"
	"github.com/sitegrab/sitegrab/internal/pipeline"
	"github.com/sitegrab/sitegrab/internal/progress"
	"github.com/sitegrab/sitegrab/internal/progress/sinks"
	"github.com/sitegrab/sitegrab/internal/publisher"
	memorypublisher "github.com/sitegrab/sitegrab/internal/publisher/memory"
	pubsubpublisher "github.com/sitegrab/sitegrab/internal/publisher/pubsub"
	"github.com/sitegrab/sitegrab/internal/render"
	"github.com/sitegrab/sitegrab/internal/safeurl"
	"github.com/sitegrab/sitegrab/internal/storage"
	gcsstorage "github.com/sitegrab/sitegrab/internal/storage/gcs"
	localstorage "github.com/sitegrab/sitegrab/internal/storage/local"
	memorystorage "github.com/sitegrab/sitegrab/internal/storage/memory"
	"github.com/sitegrab/sitegrab/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	sinkList := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewPrometheusSink(),
	}

	var history *store.History
	if cfg.DB.DSN != "" {
		history, err = store.New(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("history store init failed", zap.Error(err))
		}
		defer history.Close()
		sinkList = append(sinkList, sinks.NewStoreSink(history))
	}

	var pub publisher.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pub, err = pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
	}
	defer func() {
		if closeErr := pub.Close(); closeErr != nil {
			logger.Warn("publisher close failed", zap.Error(closeErr))
		}
	}()

	checker := safeurl.New(nil)
	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	}, checker, logger.Named("fetch"))

	renderer, err := render.New(render.Config{
		UserAgent:        cfg.Render.UserAgent,
		NavTimeout:       time.Duration(cfg.Render.NavTimeoutSeconds) * time.Second,
		IdleTimeout:      time.Duration(cfg.Render.IdleTimeoutSeconds) * time.Second,
		ChallengeWaitMax: time.Duration(cfg.Render.ChallengeWaitSeconds) * time.Second,
		MaxParallel:      cfg.Render.MaxParallel,
		DomainQPS:        cfg.Render.DomainQPS,
	}, logger.Named("render"))
	if err != nil {
		logger.Fatal("renderer init failed", zap.Error(err))
	}
	defer renderer.Close()

	controller := job.NewController(
		job.Config{
			Retention:     cfg.Retention(),
			SweepInterval: cfg.SweepInterval(),
			DeleteOnFetch: cfg.Jobs.DeleteOnFetch,
		},
		system.New(),
		uuid.New(),
		blobs,
		progress.NewFanout(sinkList...),
		pub,
		logger.Named("jobs"),
	)
	go controller.RunSweeper(ctx)

	deps := pipeline.Deps{
		Fetcher:  fetcher,
		Renderer: pipeline.ChromeRenderer{R: renderer},
		Checker:  checker,
		Blobs:    blobs,
		Workers:  cfg.Jobs.Workers,
		WorkDir:  cfg.Storage.WorkDir,
		Logger:   logger.Named("pipeline"),
	}
	pipelines := api.Pipelines{
		Text:   pipeline.NewText(deps, nil),
		Images: pipeline.NewImages(deps, nil),
	}

	var historyReader api.HistoryReader
	if history != nil {
		historyReader = history
	}
	apiServer := api.NewServer(controller, pipelines, checker, historyReader, cfg, logger.Named("api"))

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

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
