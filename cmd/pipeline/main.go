package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"fraudflow/config"
	"fraudflow/loader"
	"fraudflow/logger"
	"fraudflow/pipeline"
	"fraudflow/storage"
)

// One-shot batch runner: executes the daily pipeline for a single date and
// exits. Suited for cron and for backfilling historical dates.
func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	dt := flag.String("dt", "", "Date to process (YYYY-MM-DD); defaults to yesterday UTC")
	skipLoad := flag.Bool("skip-load", false, "Skip the serving database load stage")
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

	date := *dt
	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}

	ctx := context.Background()

	store, err := storage.NewS3Store(cfg.Storage.S3)
	if err != nil {
		log.WithError(err).Error("failed to create object store")
		os.Exit(1)
	}

	var martLoader pipeline.MartLoader
	if cfg.Postgres.Enabled && !*skipLoad {
		pgLoader, err := loader.NewLoader(ctx, cfg, store)
		if err != nil {
			log.WithError(err).Error("failed to create postgres loader")
			os.Exit(1)
		}
		defer pgLoader.Close()
		if err := pgLoader.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("failed to ensure serving schema")
			os.Exit(1)
		}
		martLoader = pgLoader
	}

	pipe := pipeline.New(cfg, store, martLoader)
	result, err := pipe.Run(ctx, date)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"dt": date}).Error("pipeline run failed")
		os.Exit(1)
	}

	fmt.Printf("run %s: %s in %s (records_in=%d dropped=%d metrics=%d alerts=%d)\n",
		result.Dt, result.Status, result.Duration.Round(time.Millisecond),
		result.RecordsIn, result.RecordsDropped, result.Metrics, result.Alerts)
}
