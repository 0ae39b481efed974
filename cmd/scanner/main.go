// Package main wires together the scanner service binary.
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

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/api"
	"github.com/sitescope/scanner/internal/browser"
	"github.com/sitescope/scanner/internal/clock/system"
	"github.com/sitescope/scanner/internal/config"
	"github.com/sitescope/scanner/internal/coordinator"
	"github.com/sitescope/scanner/internal/crawl"
	"github.com/sitescope/scanner/internal/discover"
	"github.com/sitescope/scanner/internal/heuristics"
	"github.com/sitescope/scanner/internal/id/uuid"
	"github.com/sitescope/scanner/internal/jobs"
	"github.com/sitescope/scanner/internal/logging"
	"github.com/sitescope/scanner/internal/metrics"
	"github.com/sitescope/scanner/internal/pipeline"
	memorypublisher "github.com/sitescope/scanner/internal/publisher/memory"
	pubsubpublisher "github.com/sitescope/scanner/internal/publisher/pubsub"
	"github.com/sitescope/scanner/internal/psi"
	"github.com/sitescope/scanner/internal/rules"
	"github.com/sitescope/scanner/internal/scan"
	"github.com/sitescope/scanner/internal/storage/gcs"
	"github.com/sitescope/scanner/internal/storage/local"
	blobmemory "github.com/sitescope/scanner/internal/storage/memory"
	kvmemory "github.com/sitescope/scanner/internal/store/memory"
	"github.com/sitescope/scanner/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()
	idGen := uuid.New()

	kv, closeKV, err := buildKV(ctx, cfg)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer closeKV()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	var events scan.Publisher
	if cfg.Events.Enabled {
		switch cfg.Events.Driver {
		case "memory":
			events = memorypublisher.New()
		default:
			client, err := gcpubsub.NewClient(ctx, cfg.Events.ProjectID)
			if err != nil {
				logger.Fatal("pubsub client init failed", zap.Error(err))
			}
			pub, err := pubsubpublisher.New(client)
			if err != nil {
				logger.Fatal("pubsub publisher init failed", zap.Error(err))
			}
			defer func() {
				_ = pub.Close()
			}()
			events = pub
		}
	}

	var pages scan.Browser
	chrome, err := browser.New(browser.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Scan.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		DomainQPS:         cfg.Browser.DomainQPS,
	}, logger.Named("browser"))
	if err != nil {
		// The scorer engines still work without a browser; accessibility
		// degrades to unavailable per page.
		logger.Warn("headless browser init failed", zap.Error(err))
		pages = browser.NewNoop()
	} else {
		pages = chrome
		defer func() {
			_ = chrome.Close()
		}()
	}

	var runner scan.RuleRunner
	if cfg.Rules.Backend == "static" {
		runner = rules.NewStaticRunner()
	} else {
		runner = rules.NewBrowserRunner("")
	}
	caps := scan.Caps{MaxTotalIssues: cfg.Scan.MaxTotalIssues}.Clamp()
	adapter := rules.NewAdapter(caps)
	pipe := pipeline.New(runner, adapter, heuristics.NewRunner(), blobs, clock, logger.Named("pipeline"))

	fallback := discover.New(discover.Config{
		UserAgent: cfg.Scan.UserAgent,
		MaxLinks:  cfg.Scan.LinkDiscoveryMaxURL,
	}, logger.Named("discover"))
	sched := crawl.New(pages, pipe, fallback, logger.Named("crawl"))

	scorer := psi.New(psi.Config{
		APIKey:            cfg.PSI.APIKey,
		Endpoint:          cfg.PSI.Endpoint,
		CacheTTL:          time.Duration(cfg.PSI.CacheTTLMinutes) * time.Minute,
		RequestsPerSecond: cfg.PSI.RequestsPerSecond,
	}, nil, clock, logger.Named("psi"))

	coord := coordinator.New(coordinator.Config{
		Caps:          caps,
		EngineTimeout: time.Duration(cfg.Scan.EngineTimeoutSec) * time.Second,
		LowWater:      time.Duration(cfg.Scan.LowWaterSec) * time.Second,
	}, sched, scorer, clock, logger.Named("coordinator"))

	jobStore := jobs.NewStore(kv, cfg.JobTTL(), clock)
	jobRunner := jobs.NewRunner(jobs.RunnerConfig{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Topic:     cfg.Events.Topic,
		Heartbeat: time.Duration(cfg.Jobs.HeartbeatSec) * time.Second,
	}, jobStore, coord, idGen, events, clock, logger.Named("jobs"))
	jobRunner.Start(ctx)

	apiServer := api.NewServer(cfg, coord, jobRunner, jobStore, logger)

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

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	jobRunner.Wait()
	logger.Info("shutdown complete")
}

func buildKV(ctx context.Context, cfg config.Config) (scan.KVStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		kv, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Store.DSN,
			Table:           cfg.Store.Table,
			MaxConns:        int32(cfg.Store.MaxConns),
			MinConns:        int32(cfg.Store.MinConns),
			MaxConnLifetime: time.Duration(cfg.Store.ConnLifetimeHr) * time.Hour,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return kv, func() { kv.Close() }, nil
	case "memory":
		return kvmemory.NewKV(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (scan.BlobStore, error) {
	switch cfg.Blob.Driver {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Blob.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return blobmemory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}
