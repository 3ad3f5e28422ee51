// Package main wires together the lead service binary.
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

	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/api"
	"github.com/Decentralised-AI/aitino/internal/clock/system"
	"github.com/Decentralised-AI/aitino/internal/comment"
	"github.com/Decentralised-AI/aitino/internal/config"
	eventsMemory "github.com/Decentralised-AI/aitino/internal/events/memory"
	eventsPubsub "github.com/Decentralised-AI/aitino/internal/events/pubsub"
	"github.com/Decentralised-AI/aitino/internal/id/uuid"
	"github.com/Decentralised-AI/aitino/internal/lead"
	"github.com/Decentralised-AI/aitino/internal/logging"
	"github.com/Decentralised-AI/aitino/internal/metrics"
	"github.com/Decentralised-AI/aitino/internal/reddit"
	"github.com/Decentralised-AI/aitino/internal/registry"
	"github.com/Decentralised-AI/aitino/internal/relevance"
	storeMemory "github.com/Decentralised-AI/aitino/internal/store/memory"
	storePostgres "github.com/Decentralised-AI/aitino/internal/store/postgres"
	"github.com/Decentralised-AI/aitino/internal/worker"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()

	var store lead.Store
	if cfg.DB.DSN != "" {
		pgStore, err := storePostgres.NewLeadStore(ctx, storePostgres.LeadStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		}, idGen, clock)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("db.dsn not set, using in-memory lead store")
		store = storeMemory.NewLeadStore(idGen, clock)
	}

	redditClient := reddit.New(reddit.Config{
		BaseURL:   cfg.Reddit.BaseURL,
		UserAgent: cfg.Reddit.UserAgent,
		Timeout:   time.Duration(cfg.Reddit.TimeoutSeconds) * time.Second,
	})
	evaluator := relevance.New(relevance.Config{
		Endpoint: cfg.Evaluator.Endpoint,
		Model:    cfg.Evaluator.Model,
		APIKey:   cfg.Evaluator.APIKey,
		Timeout:  time.Duration(cfg.Evaluator.TimeoutSeconds) * time.Second,
	})
	generator := comment.NewHTTPGenerator(comment.GeneratorConfig{
		Endpoint: cfg.Generator.Endpoint,
		Model:    cfg.Generator.Model,
		APIKey:   cfg.Generator.APIKey,
		Timeout:  time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
	})
	pipeline := comment.NewPipeline(generator, redditClient, store, logger.Named("pipeline"))

	var events lead.EventPublisher
	switch cfg.Events.Provider {
	case "pubsub":
		pub, err := eventsPubsub.New(ctx, cfg.Events.ProjectID, cfg.Events.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Error("pubsub publisher close failed", zap.Error(closeErr))
			}
		}()
		events = pub
	case "memory":
		events = eventsMemory.New()
	}

	retry := lead.NewRetryPolicy(
		cfg.Stream.MaxRetries,
		time.Duration(cfg.Stream.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Stream.BackoffMaxMs)*time.Millisecond,
	)
	factory := func(subreddits []string) registry.Runner {
		return worker.New(
			redditClient,
			evaluator,
			store,
			events,
			retry,
			worker.Config{
				Subreddits:   subreddits,
				PollInterval: cfg.PollInterval(),
				FetchTimeout: cfg.FetchTimeout(),
			},
			logger.Named("worker"),
		)
	}
	reg := registry.New(factory, idGen, cfg.StopTimeout(), logger.Named("registry"))
	if cfg.Stream.ReaperEnabled {
		go reg.RunReaper(ctx, time.Minute)
	}

	apiServer := api.NewServer(reg, pipeline, store, cfg, logger.Named("api"))

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
	reg.StopAll()
	logger.Info("shutdown complete")
}
