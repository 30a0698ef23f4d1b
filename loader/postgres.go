package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "fraudflow/config"
	"fraudflow/logger"
	"fraudflow/models"
	"fraudflow/storage"
)

const metricsSchema = `
CREATE TABLE IF NOT EXISTS merchant_daily_metrics (
	dt               DATE           NOT NULL,
	merchant_id      TEXT           NOT NULL,
	tx_count         BIGINT         NOT NULL,
	sum_amount       NUMERIC(18,2)  NOT NULL,
	avg_amount       NUMERIC(18,2)  NOT NULL,
	max_amount       NUMERIC(18,2)  NOT NULL,
	unique_countries INT            NOT NULL,
	unique_devices   INT            NOT NULL,
	decline_rate     NUMERIC(7,4)   NOT NULL,
	PRIMARY KEY (dt, merchant_id)
)`

const alertsSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id          BIGSERIAL PRIMARY KEY,
	dt          DATE   NOT NULL,
	merchant_id TEXT   NOT NULL,
	customer_id TEXT,
	rule_code   TEXT   NOT NULL,
	severity    INT    NOT NULL,
	details     JSONB  NOT NULL
)`

const alertsDtIndex = `CREATE INDEX IF NOT EXISTS alerts_dt_idx ON alerts (dt)`

// dbConn is the slice of pgxpool.Pool the loader exercises, separated so
// tests can substitute a statement-recording fake.
type dbConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Loader moves a date's mart objects into Postgres. Loads are idempotent per
// date: each run deletes the date's rows before inserting, so a rerun
// replaces rather than duplicates.
type Loader struct {
	config *appconfig.Config
	store  storage.ObjectStore
	pool   *pgxpool.Pool
	db     dbConn
	log    *logger.Log
}

func NewLoader(ctx context.Context, cfg *appconfig.Config, store storage.ObjectStore) (*Loader, error) {
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Loader{
		config: cfg,
		store:  store,
		pool:   pool,
		db:     pool,
		log:    logger.GetLogger(),
	}, nil
}

func (l *Loader) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// EnsureSchema creates the serving tables when they do not exist yet.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{metricsSchema, alertsSchema, alertsDtIndex} {
		if _, err := l.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure serving schema: %w", err)
		}
	}
	return nil
}

// LoadResult summarizes one load stage run.
type LoadResult struct {
	MetricsLoaded int
	AlertsLoaded  int
}

// LoadDate reads the date's mart objects and loads both tables, each inside
// its own transaction. Metrics are upserted after clearing the date; alerts
// are cleared and bulk-copied.
func (l *Loader) LoadDate(ctx context.Context, dt string) (LoadResult, error) {
	var result LoadResult
	log := l.log.WithComponent("loader").WithFields(logger.Fields{"dt": dt})

	metrics, err := ReadMetrics(ctx, l.store, dt)
	if err != nil {
		return result, err
	}
	alerts, err := ReadAlerts(ctx, l.store, dt)
	if err != nil {
		return result, err
	}

	if err := l.loadMetrics(ctx, dt, metrics); err != nil {
		return result, err
	}
	result.MetricsLoaded = len(metrics)

	if err := l.loadAlerts(ctx, dt, alerts); err != nil {
		return result, err
	}
	result.AlertsLoaded = len(alerts)

	log.WithFields(logger.Fields{
		"metrics_loaded": result.MetricsLoaded,
		"alerts_loaded":  result.AlertsLoaded,
	}).Info("serving load complete")
	return result, nil
}

func (l *Loader) loadMetrics(ctx context.Context, dt string, metrics []models.MerchantDailyMetric) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin metrics transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM merchant_daily_metrics WHERE dt = $1`, dt); err != nil {
		return fmt.Errorf("failed to clear metrics for %s: %w", dt, err)
	}
	for _, m := range metrics {
		_, err := tx.Exec(ctx, `
			INSERT INTO merchant_daily_metrics
				(dt, merchant_id, tx_count, sum_amount, avg_amount, max_amount,
				 unique_countries, unique_devices, decline_rate)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (dt, merchant_id) DO UPDATE SET
				tx_count = EXCLUDED.tx_count,
				sum_amount = EXCLUDED.sum_amount,
				avg_amount = EXCLUDED.avg_amount,
				max_amount = EXCLUDED.max_amount,
				unique_countries = EXCLUDED.unique_countries,
				unique_devices = EXCLUDED.unique_devices,
				decline_rate = EXCLUDED.decline_rate`,
			m.Dt, m.MerchantID, m.TxCount, m.SumAmount, m.AvgAmount, m.MaxAmount,
			m.UniqueCountries, m.UniqueDevices, m.DeclineRate)
		if err != nil {
			return fmt.Errorf("failed to upsert metric for %s/%s: %w", m.Dt, m.MerchantID, err)
		}
	}
	return tx.Commit(ctx)
}

func (l *Loader) loadAlerts(ctx context.Context, dt string, alerts []models.Alert) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin alerts transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE dt = $1`, dt); err != nil {
		return fmt.Errorf("failed to clear alerts for %s: %w", dt, err)
	}

	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		details, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("failed to encode alert details: %w", err)
		}
		rows = append(rows, []any{a.Dt, a.MerchantID, a.CustomerID, a.RuleCode, a.Severity, details})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"alerts"},
		[]string{"dt", "merchant_id", "customer_id", "rule_code", "severity", "details"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy alerts for %s: %w", dt, err)
	}
	return tx.Commit(ctx)
}

// ReadMetrics loads a date's metric mart objects back into structs.
func ReadMetrics(ctx context.Context, store storage.ObjectStore, dt string) ([]models.MerchantDailyMetric, error) {
	var metrics []models.MerchantDailyMetric
	err := readMartLines(ctx, store, storage.MetricsPrefix(dt), func(line []byte) error {
		var m models.MerchantDailyMetric
		if err := json.Unmarshal(line, &m); err != nil {
			return err
		}
		metrics = append(metrics, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics mart for %s: %w", dt, err)
	}
	return metrics, nil
}

// ReadAlerts loads a date's alert mart objects back into structs.
func ReadAlerts(ctx context.Context, store storage.ObjectStore, dt string) ([]models.Alert, error) {
	var alerts []models.Alert
	err := readMartLines(ctx, store, storage.AlertsPrefix(dt), func(line []byte) error {
		var a models.Alert
		if err := json.Unmarshal(line, &a); err != nil {
			return err
		}
		alerts = append(alerts, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts mart for %s: %w", dt, err)
	}
	return alerts, nil
}

func readMartLines(ctx context.Context, store storage.ObjectStore, prefix string, fn func([]byte) error) error {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if err := fn(line); err != nil {
				return err
			}
		}
	}
	return nil
}
