package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10m" or "30s" decode
// directly into config fields.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Fraudflow  AppConfig        `yaml:"fraudflow"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Batcher    BatcherConfig    `yaml:"batcher"`
	Storage    StorageConfig    `yaml:"storage"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Server     ServerConfig     `yaml:"server"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	GroupID  string   `yaml:"group_id"`
	MinBytes int      `yaml:"min_bytes"`
	MaxBytes int      `yaml:"max_bytes"`
}

type BatcherConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket            string   `yaml:"bucket"`
	Region            string   `yaml:"region"`
	Endpoint          string   `yaml:"endpoint"`
	PathStyle         bool     `yaml:"path_style"`
	AccessKeyID       string   `yaml:"access_key_id"`
	SecretAccessKey   string   `yaml:"secret_access_key"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	RequestTimeout    Duration `yaml:"request_timeout"`
}

type PipelineConfig struct {
	Timeout       Duration     `yaml:"timeout"`
	ParquetMirror bool         `yaml:"parquet_mirror"`
	Rules         []RuleConfig `yaml:"rules"`
}

// RuleConfig declares one fraud rule as data: which metric field is compared
// against which threshold, and the severity of the resulting alert. AtLeast
// switches the comparison from strict greater-than to greater-or-equal.
type RuleConfig struct {
	Code      string  `yaml:"code"`
	Field     string  `yaml:"field"`
	Threshold float64 `yaml:"threshold"`
	Severity  int     `yaml:"severity"`
	AtLeast   bool    `yaml:"at_least"`
}

type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the connection string consumed by pgxpool.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, sslMode)
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultRules is the built-in rule set, applied when the configuration does
// not declare its own.
var DefaultRules = []RuleConfig{
	{Code: "HIGH_AMOUNT", Field: "max_amount", Threshold: 1000, Severity: 3},
	{Code: "BURST", Field: "tx_count", Threshold: 30, Severity: 2},
	{Code: "MULTI_COUNTRY", Field: "unique_countries", Threshold: 3, Severity: 2, AtLeast: true},
	{Code: "HIGH_DECLINE", Field: "decline_rate", Threshold: 0.5, Severity: 3},
}

var ruleFields = map[string]bool{
	"tx_count":         true,
	"sum_amount":       true,
	"avg_amount":       true,
	"max_amount":       true,
	"unique_countries": true,
	"unique_devices":   true,
	"decline_rate":     true,
}

// LoadConfig reads, expands and validates the YAML configuration at path.
// ${VAR} references in the file are substituted from the environment before
// decoding, and a handful of well-known environment variables override their
// file counterparts afterwards.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Fraudflow.Name == "" {
		c.Fraudflow.Name = "fraudflow"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "transactions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "fraudflow-ingest"
	}
	if c.Batcher.BatchSize <= 0 {
		c.Batcher.BatchSize = 50
	}
	if c.Pipeline.Timeout <= 0 {
		c.Pipeline.Timeout = Duration(10 * time.Minute)
	}
	if len(c.Pipeline.Rules) == 0 {
		c.Pipeline.Rules = DefaultRules
	}
	if c.Storage.S3.RequestTimeout <= 0 {
		c.Storage.S3.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket must not be empty")
	}
	if !isValidS3Bucket(c.Storage.S3.Bucket) {
		return fmt.Errorf("storage.s3.bucket %q is not a valid bucket name", c.Storage.S3.Bucket)
	}
	for _, r := range c.Pipeline.Rules {
		if r.Code == "" {
			return fmt.Errorf("pipeline.rules: rule without code")
		}
		if !ruleFields[r.Field] {
			return fmt.Errorf("pipeline.rules: rule %s references unknown field %q", r.Code, r.Field)
		}
		if r.Severity < 1 || r.Severity > 3 {
			return fmt.Errorf("pipeline.rules: rule %s severity %d out of range", r.Code, r.Severity)
		}
	}
	if c.Postgres.Enabled {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("postgres: host, database and user are required when enabled")
		}
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
