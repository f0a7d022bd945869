package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docsense/internal/analyzer"
	"docsense/internal/cache"
	"docsense/internal/config"
	"docsense/internal/consensus"
	"docsense/internal/controller"
	"docsense/internal/database"
	"docsense/internal/executor"
	"docsense/internal/model"
	"docsense/internal/pipeline"
	"docsense/internal/rabbitmq"
	"docsense/internal/server"
	"docsense/internal/storage"
	"docsense/internal/verify"
)

func main() {
	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Logging)

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	redisStore, err := cache.NewRedisStore(cfg.Redis, time.Duration(cfg.Cache.TTLHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisStore.Close()

	contentCache := cache.NewContentCache(cache.NewMemoryStore(cfg.Cache.MemoryCapacity), redisStore)

	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer rabbit.Close()

	notifier, err := rabbitmq.NewNotifier(rabbit, cfg.RabbitMQ.EventExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to declare event exchange")
	}

	source, err := storage.NewS3Source(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize document storage")
	}
	if err := source.TestConnection(); err != nil {
		log.Warn().Err(err).Msg("Document storage connection test failed")
	}

	analyzers := analyzer.NewRegistry(cfg.Analyzers)
	if len(analyzers.All()) == 0 {
		log.Fatal().Msg("No analyzer backends configured")
	}

	breakers := executor.NewBreakerRegistry(cfg.Breaker, func(kind model.TaskKind) {
		notifier.PublishBreakerAlert(kind)
	})
	exec := executor.New(breakers, cfg.Executor, nil)

	engine := consensus.NewEngine(cfg.Consensus)

	var verifier pipeline.Verifier
	if backend, ok := analyzers.Verifier(); ok {
		verifier = verify.New(backend, db, cfg.Verification)
	} else {
		log.Warn().Msg("No verification-capable analyzer configured, verification pass disabled")
	}

	// The first configured backend doubles as the OCR extractor.
	extractor, ok := analyzers.Get(cfg.Analyzers[0].ID)
	if !ok {
		log.Fatal().Str("analyzer", cfg.Analyzers[0].ID).Msg("Extraction backend not registered")
	}
	pipe := pipeline.New(db, source, contentCache, exec, analyzers, engine, verifier, notifier, extractor, cfg.Executor.MaxRetries)

	dc := controller.NewDocumentController(db, rabbit, cfg.RabbitMQ, pipe)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := server.New(*cfg, db, rabbit, dc)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return dc.StartConsuming(groupCtx)
	})

	group.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		dc.StopConsuming()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("Service terminated with error")
		os.Exit(1)
	}

	log.Info().Msg("Service stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
