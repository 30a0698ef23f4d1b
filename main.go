package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fraudflow/config"
	"fraudflow/loader"
	"fraudflow/logger"
	"fraudflow/pipeline"
	"fraudflow/reader/kafka"
	"fraudflow/server"
	"fraudflow/storage"
	"fraudflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Fraudflow.Name,
		"version": cfg.Fraudflow.Version,
	}).Info("starting fraudflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	store, err := storage.NewS3Store(cfg.Storage.S3)
	if err != nil {
		log.WithError(err).Error("failed to create object store")
		os.Exit(1)
	}

	var consumer *kafka.Consumer
	batcher := writer.NewBatcher(cfg, store, func(refs []writer.Ref) {
		consumer.HandleFlush(refs)
	})
	consumer = kafka.NewConsumer(cfg, batcher)

	if err := consumer.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start kafka consumer")
		os.Exit(1)
	}

	var martLoader pipeline.MartLoader
	var pgLoader *loader.Loader
	if cfg.Postgres.Enabled {
		pgLoader, err = loader.NewLoader(ctx, cfg, store)
		if err != nil {
			log.WithError(err).Error("failed to create postgres loader")
			os.Exit(1)
		}
		if err := pgLoader.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("failed to ensure serving schema")
			os.Exit(1)
		}
		martLoader = pgLoader
	}

	pipe := pipeline.New(cfg, store, martLoader)
	apiServer := server.NewServer(cfg.Server, pipe)

	apiDone := make(chan error, 1)
	if apiServer != nil {
		go func() {
			apiDone <- apiServer.Run(ctx)
		}()
	} else {
		close(apiDone)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var fatalErr error
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case fatalErr = <-consumer.Fatal():
		log.WithError(fatalErr).Error("stream consumption failed; shutting down")
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping kafka consumer")
	if err := consumer.Stop(); err != nil {
		log.WithError(err).Error("consumer shutdown finished with error")
		if fatalErr == nil {
			fatalErr = err
		}
	}

	if err := <-apiDone; err != nil {
		log.WithError(err).Warn("api server exited with error")
	}
	if pgLoader != nil {
		pgLoader.Close()
	}

	if fatalErr != nil {
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
