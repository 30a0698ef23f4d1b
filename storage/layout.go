package storage

import (
	"fmt"

	"github.com/google/uuid"

	"fraudflow/models"
)

// Storage namespaces. Raw and lake objects are partitioned by (dt, hour),
// everything downstream by dt only so the aggregation stage reads one
// prefix per date.
const (
	rawRoot     = "raw/transactions"
	normRoot    = "normalized/transactions"
	lakeRoot    = "lake/transactions"
	metricsRoot = "marts/merchant_daily_metrics"
	alertsRoot  = "marts/alerts"
)

// RawPrefix addresses every raw object for a date, across hours.
func RawPrefix(dt string) string {
	return fmt.Sprintf("%s/dt=%s/", rawRoot, dt)
}

// RawObjectKey mints a fresh write-once key for one raw micro-batch.
func RawObjectKey(key models.PartitionKey) string {
	return fmt.Sprintf("%s/dt=%s/hour=%s/part-%s.jsonl", rawRoot, key.Dt, key.Hour, uuid.New())
}

// NormalizedPrefix addresses every normalized object for a date.
func NormalizedPrefix(dt string) string {
	return fmt.Sprintf("%s/dt=%s/", normRoot, dt)
}

// NormalizedObjectKey mints a fresh key for one normalized part file.
func NormalizedObjectKey(dt string) string {
	return fmt.Sprintf("%s/dt=%s/part-%s.jsonl", normRoot, dt, uuid.New())
}

// LakeObjectKey mints a fresh key for the columnar mirror of a normalized
// part file.
func LakeObjectKey(dt string) string {
	return fmt.Sprintf("%s/dt=%s/part-%s.parquet", lakeRoot, dt, uuid.New())
}

// MetricsPrefix addresses the merchant-daily metric objects for a date.
func MetricsPrefix(dt string) string {
	return fmt.Sprintf("%s/dt=%s/", metricsRoot, dt)
}

// MetricsObjectKey mints a fresh key for one metrics mart part file.
func MetricsObjectKey(dt string) string {
	return fmt.Sprintf("%s/dt=%s/part-%s.jsonl", metricsRoot, dt, uuid.New())
}

// AlertsPrefix addresses the alert objects for a date.
func AlertsPrefix(dt string) string {
	return fmt.Sprintf("%s/dt=%s/", alertsRoot, dt)
}

// AlertsObjectKey mints a fresh key for one alerts mart part file.
func AlertsObjectKey(dt string) string {
	return fmt.Sprintf("%s/dt=%s/part-%s.jsonl", alertsRoot, dt, uuid.New())
}
