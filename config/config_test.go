package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalYAML = `fraudflow:
  name: "TestApp"
  version: "1.0"
kafka:
  brokers: ["localhost:9092"]
  topic: transactions
storage:
  s3:
    bucket: fraudflow-data
pipeline:
  timeout: 30s
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Fraudflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Fraudflow.Name)
	}
	if cfg.Pipeline.Timeout.Std() != 30*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Pipeline.Timeout.Std())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Batcher.BatchSize != 50 {
		t.Errorf("expected default batch size 50, got %d", cfg.Batcher.BatchSize)
	}
	if len(cfg.Pipeline.Rules) != 4 {
		t.Fatalf("expected default rule set, got %d rules", len(cfg.Pipeline.Rules))
	}
	if cfg.Pipeline.Rules[0].Code != "HIGH_AMOUNT" {
		t.Errorf("unexpected first rule: %s", cfg.Pipeline.Rules[0].Code)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka1:9092,kafka2:9092")
	t.Setenv("BATCH_SIZE", "10")

	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka2:9092" {
		t.Errorf("brokers not overridden: %v", cfg.Kafka.Brokers)
	}
	if cfg.Batcher.BatchSize != 10 {
		t.Errorf("batch size not overridden: %d", cfg.Batcher.BatchSize)
	}
}

func TestLoadConfigMissingBrokers(t *testing.T) {
	path := writeTempConfig(t, `storage:
  s3:
    bucket: fraudflow-data
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
}

func TestLoadConfigUnknownRuleField(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`  rules:
    - code: WEIRD
      field: nonexistent
      threshold: 1
      severity: 2
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown rule field")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, Database: "frauddb", User: "fraud_user", Password: "secret"}
	want := "postgres://fraud_user:secret@db:5432/frauddb?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestInvalidBucketName(t *testing.T) {
	if isValidS3Bucket("Bad_Bucket") {
		t.Errorf("expected Bad_Bucket to be rejected")
	}
	if !isValidS3Bucket("fraudflow-data") {
		t.Errorf("expected fraudflow-data to be accepted")
	}
}
