// Package config loads ledger settings from the environment and, optionally,
// a YAML file. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/observability"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds ledger configuration.
type Config struct {
	HashAlgorithm string               `yaml:"hash_algorithm"`
	Sink          sink.Config          `yaml:"sink"`
	SchemaDir     string               `yaml:"schema_dir"`
	SchemaID      string               `yaml:"schema_id"`
	Workers       int                  `yaml:"workers"` // 0 means one per CPU
	LogLevel      string               `yaml:"log_level"`
	LogFormat     string               `yaml:"log_format"`
	Telemetry     observability.Config `yaml:"telemetry"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		HashAlgorithm: string(digest.SHA256),
		Sink:          sink.Config{Type: sink.TypeFile, Path: "data/ledger.jsonl"},
		Workers:       1,
		LogLevel:      "INFO",
		LogFormat:     "text",
		Telemetry:     *observability.DefaultConfig(),
	}
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults and then applies the
// environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.HashAlgorithm, "LEDGER_HASH_ALGORITHM")
	if v := os.Getenv("LEDGER_SINK"); v != "" {
		c.Sink.Type = sink.Type(strings.ToLower(v))
	}
	setString(&c.Sink.Path, "LEDGER_PATH")
	setString(&c.Sink.Table, "LEDGER_TABLE")
	setBool(&c.Sink.Sync, "LEDGER_FSYNC")
	setString(&c.Sink.DatabaseURL, "DATABASE_URL")
	setString(&c.Sink.S3.Bucket, "LEDGER_S3_BUCKET")
	setString(&c.Sink.S3.Region, "AWS_REGION")
	setString(&c.Sink.S3.Endpoint, "LEDGER_S3_ENDPOINT")
	setString(&c.Sink.S3.Prefix, "LEDGER_S3_PREFIX")
	setString(&c.Sink.GCS.Bucket, "LEDGER_GCS_BUCKET")
	setString(&c.Sink.GCS.Prefix, "LEDGER_GCS_PREFIX")
	setString(&c.Sink.Redis.Addr, "REDIS_ADDR")
	setString(&c.Sink.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Sink.Redis.Key, "LEDGER_REDIS_KEY")
	setString(&c.SchemaDir, "LEDGER_SCHEMA_DIR")
	setString(&c.SchemaID, "LEDGER_SCHEMA_ID")
	if v, err := strconv.Atoi(os.Getenv("LEDGER_WORKERS")); err == nil {
		c.Workers = v
	}
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setBool(&c.Telemetry.Enabled, "OTEL_ENABLED")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&c.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// Algorithm returns the parsed hash algorithm.
func (c *Config) Algorithm() (digest.Algorithm, error) {
	return digest.ParseAlgorithm(c.HashAlgorithm)
}

// Validate rejects settings that would fail later at construction time.
func (c *Config) Validate() error {
	if _, err := c.Algorithm(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalid, c.Workers)
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.SchemaID != "" && c.SchemaDir == "" {
		return fmt.Errorf("%w: schema_id %q set without schema_dir", ErrInvalid, c.SchemaID)
	}
	return nil
}
