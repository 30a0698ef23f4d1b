package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "fraudflow/config"
	"fraudflow/loader"
	"fraudflow/logger"
	"fraudflow/models"
	"fraudflow/processor"
	"fraudflow/storage"
)

// ErrTimeout marks a run that exceeded the configured pipeline deadline.
var ErrTimeout = errors.New("pipeline run timed out")

// ErrAlreadyRunning rejects a trigger while another run is in flight. Runs
// are serialized: marts are replaced per date, and concurrent replacement
// of the same date would interleave deletes and writes.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

// MartLoader loads a date's marts into the serving store.
type MartLoader interface {
	LoadDate(ctx context.Context, dt string) (loader.LoadResult, error)
}

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusTimedOut  RunStatus = "timed_out"
)

// RunResult captures one batch run for diagnostics and the status endpoint.
type RunResult struct {
	Dt             string        `json:"dt"`
	Status         RunStatus     `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	RecordsIn      int           `json:"records_in"`
	RecordsOut     int           `json:"records_out"`
	RecordsDropped int           `json:"records_dropped"`
	Metrics        int           `json:"metrics"`
	Alerts         int           `json:"alerts"`
	MetricsLoaded  int           `json:"metrics_loaded"`
	AlertsLoaded   int           `json:"alerts_loaded"`
	Error          string        `json:"error,omitempty"`
}

// Pipeline runs the daily batch transform for one date: normalize the raw
// zone, aggregate per merchant, evaluate fraud rules, write the mart
// objects, and optionally load the serving database.
type Pipeline struct {
	config     *appconfig.Config
	store      storage.ObjectStore
	normalizer *processor.Normalizer
	engine     *processor.Engine
	loader     MartLoader
	log        *logger.Log

	mu      sync.Mutex
	running bool
	lastRun *RunResult
}

// New builds a pipeline. martLoader may be nil when no serving database is
// configured; the run then stops after writing the mart objects.
func New(cfg *appconfig.Config, store storage.ObjectStore, martLoader MartLoader) *Pipeline {
	return &Pipeline{
		config:     cfg,
		store:      store,
		normalizer: processor.NewNormalizer(cfg, store),
		engine:     processor.NewEngine(cfg.Pipeline.Rules),
		loader:     martLoader,
		log:        logger.GetLogger(),
	}
}

// LastRun returns the most recent run result, or nil before the first run.
func (p *Pipeline) LastRun() *RunResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

// Run executes the batch pipeline for one date under the configured
// deadline. Exactly one run may be in flight; a second trigger fails with
// ErrAlreadyRunning. A deadline overrun surfaces as ErrTimeout.
func (p *Pipeline) Run(ctx context.Context, dt string) (*RunResult, error) {
	if _, err := time.Parse("2006-01-02", dt); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", dt)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	result := &RunResult{Dt: dt, StartedAt: time.Now().UTC()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		p.mu.Lock()
		p.running = false
		p.lastRun = result
		p.mu.Unlock()
	}()

	timeout := p.config.Pipeline.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"dt": dt})
	log.Info("pipeline run started")

	err := p.execute(runCtx, dt, result)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
			result.Status = StatusTimedOut
		} else {
			result.Status = StatusFailed
		}
		result.Error = err.Error()
		log.WithError(err).Error("pipeline run failed")
		return result, err
	}

	result.Status = StatusCompleted
	log.WithFields(logger.Fields{
		"duration":   result.Duration.String(),
		"records_in": result.RecordsIn,
		"metrics":    result.Metrics,
		"alerts":     result.Alerts,
	}).Info("pipeline run completed")
	p.log.LogMetric("pipeline", "runs_completed", 1, "counter", logger.Fields{"dt": dt})

	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, dt string, result *RunResult) error {
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"dt": dt})

	stageStart := time.Now()
	norm, err := p.normalizer.NormalizeDate(ctx, dt)
	if err != nil {
		return err
	}
	logger.LogPerformanceEntry(log, "pipeline", "normalize", time.Since(stageStart), logger.Fields{
		"records_in": norm.RecordsIn,
	})
	result.RecordsIn = norm.RecordsIn
	result.RecordsOut = norm.RecordsOut
	result.RecordsDropped = norm.RecordsDropped

	stageStart = time.Now()
	records, err := processor.LoadNormalized(ctx, p.store, dt)
	if err != nil {
		return err
	}
	processor.SortRecords(records)

	metrics := processor.AggregateSorted(records)
	result.Metrics = len(metrics)

	alerts := p.engine.Evaluate(metrics)
	result.Alerts = len(alerts)
	logger.LogPerformanceEntry(log, "pipeline", "aggregate", time.Since(stageStart), logger.Fields{
		"metrics": len(metrics),
		"alerts":  len(alerts),
	})

	if err := ctx.Err(); err != nil {
		return err
	}

	// A rerun replaces the date's marts wholesale: clear first, then write
	// the fresh set, so the loader never sees a stale run's objects.
	if err := p.clearPrefix(ctx, storage.MetricsPrefix(dt)); err != nil {
		return err
	}
	if err := p.clearPrefix(ctx, storage.AlertsPrefix(dt)); err != nil {
		return err
	}
	if err := p.writeMetricsMart(ctx, dt, metrics); err != nil {
		return err
	}
	if err := p.writeAlertsMart(ctx, dt, alerts); err != nil {
		return err
	}

	if p.loader != nil {
		stageStart = time.Now()
		loaded, err := p.loader.LoadDate(ctx, dt)
		if err != nil {
			return err
		}
		logger.LogPerformanceEntry(log, "pipeline", "load", time.Since(stageStart), logger.Fields{
			"metrics_loaded": loaded.MetricsLoaded,
			"alerts_loaded":  loaded.AlertsLoaded,
		})
		result.MetricsLoaded = loaded.MetricsLoaded
		result.AlertsLoaded = loaded.AlertsLoaded
	}
	return nil
}

func (p *Pipeline) clearPrefix(ctx context.Context, prefix string) error {
	keys, err := p.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// writeMetricsMart writes the date's metrics as one jsonl part file. An
// empty date still completes without writing an object.
func (p *Pipeline) writeMetricsMart(ctx context.Context, dt string, metrics []models.MerchantDailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, m := range metrics {
		encoded, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode metric: %w", err)
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
	}
	if err := p.store.Put(ctx, storage.MetricsObjectKey(dt), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write metrics mart: %w", err)
	}
	return nil
}

func (p *Pipeline) writeAlertsMart(ctx context.Context, dt string, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, a := range alerts {
		encoded, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode alert: %w", err)
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
	}
	if err := p.store.Put(ctx, storage.AlertsObjectKey(dt), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write alerts mart: %w", err)
	}
	return nil
}
