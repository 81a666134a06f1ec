// Package config holds courier's runtime configuration: exchange/ping
// intervals, the data directory layout, server and proxy URLs, and the
// registration parameters courier's registration handler reads. It
// follows the teacher's DefaultConfig/LoadFromFile/LoadFromEnv shape
// (see internal/config in the original nova tree): a struct of nested
// config blocks with sensible defaults, optional JSON file overlay,
// then environment variable overrides applied last.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig holds the message-exchange engine's tunables.
type ExchangeConfig struct {
	URL            string        `json:"url" yaml:"url"`                             // management server exchange endpoint
	Interval       time.Duration `json:"interval" yaml:"interval"`                   // normal exchange interval (default: 900s)
	UrgentInterval time.Duration `json:"urgent_interval" yaml:"urgent_interval"`     // urgent exchange interval (default: 60s)
	MaxMessages    int           `json:"max_messages" yaml:"max_messages"`           // max messages sent per exchange (default: 100)
	HTTPProxy      string        `json:"http_proxy" yaml:"http_proxy"`
	HTTPSProxy     string        `json:"https_proxy" yaml:"https_proxy"`
}

// PingConfig holds the lightweight ping-probe tunables.
type PingConfig struct {
	URL      string        `json:"url" yaml:"url"`           // ping server endpoint
	Interval time.Duration `json:"interval" yaml:"interval"` // ping interval (default: 30s)
}

// RegistrationConfig holds the identity fields used to register this
// computer with the management server.
type RegistrationConfig struct {
	ComputerTitle   string `json:"computer_title" yaml:"computer_title"`
	AccountName     string `json:"account_name" yaml:"account_name"`
	RegistrationKey string `json:"registration_key" yaml:"registration_key"`
	Tags            string `json:"tags" yaml:"tags"`
	AccessGroup     string `json:"access_group" yaml:"access_group"`
}

// StorageConfig holds on-disk layout settings for durable state.
type StorageConfig struct {
	DataPath          string `json:"data_path" yaml:"data_path"`                   // root directory for all durable state
	MessageStorePath  string `json:"message_store_path" yaml:"message_store_path"`   // derived from DataPath if empty
	ExchangeStorePath string `json:"exchange_store_path" yaml:"exchange_store_path"` // derived from DataPath if empty
	DirectorySize     int    `json:"directory_size" yaml:"directory_size"`           // message queue shard size (default: 1000)
}

// LoggingConfig holds structured logging settings, matching the
// teacher's operational-logging knobs.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// TracingConfig holds OpenTelemetry tracing settings for exchange spans.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`         // otlp-http, otlp-grpc, stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // courier
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"` // courier
	Addr      string `json:"addr" yaml:"addr"`           // :9091, metrics HTTP listener
}

// Config is the central configuration struct for courier.
type Config struct {
	HostagentUID          string             `json:"hostagent_uid" yaml:"hostagent_uid"`
	InstallationRequestID string             `json:"installation_request_id" yaml:"installation_request_id"`
	Exchange              ExchangeConfig     `json:"exchange" yaml:"exchange"`
	Ping                  PingConfig         `json:"ping" yaml:"ping"`
	Registration          RegistrationConfig `json:"registration" yaml:"registration"`
	Storage               StorageConfig      `json:"storage" yaml:"storage"`
	Logging               LoggingConfig      `json:"logging" yaml:"logging"`
	Tracing               TracingConfig      `json:"tracing" yaml:"tracing"`
	Metrics               MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Interval:       900 * time.Second,
			UrgentInterval: 60 * time.Second,
			MaxMessages:    100,
		},
		Ping: PingConfig{
			Interval: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataPath:      "/var/lib/courier",
			DirectorySize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "courier",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "courier",
			Addr:      ":9091",
		},
	}
}

// ResolvePaths fills in any storage sub-paths left empty, deriving them
// from DataPath the way the original derives its message/exchange store
// locations from a single data directory root.
func (c *Config) ResolvePaths() {
	if c.Storage.MessageStorePath == "" {
		c.Storage.MessageStorePath = filepath.Join(c.Storage.DataPath, "messages")
	}
	if c.Storage.ExchangeStorePath == "" {
		c.Storage.ExchangeStorePath = filepath.Join(c.Storage.DataPath, "exchange.db")
	}
}

// LoadFromFile loads configuration from a JSON file, overlaying it on
// top of DefaultConfig so any field the file omits keeps its default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ResolvePaths()
	return cfg, nil
}

// LoadFromYAMLFile loads configuration from a courier.yaml file,
// overlaying it on top of DefaultConfig the same way LoadFromFile does
// for JSON, for installations that prefer a YAML-based config front end.
func LoadFromYAMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ResolvePaths()
	return cfg, nil
}

// Load reads path as YAML if its extension is .yaml/.yml, JSON otherwise.
func Load(path string) (*Config, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return LoadFromYAMLFile(path)
	default:
		return LoadFromFile(path)
	}
}

// LoadFromEnv applies COURIER_-prefixed environment variable overrides
// to cfg, applied after any file-based configuration.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("COURIER_HOSTAGENT_UID"); v != "" {
		cfg.HostagentUID = v
	}
	if v := os.Getenv("COURIER_INSTALLATION_REQUEST_ID"); v != "" {
		cfg.InstallationRequestID = v
	}

	if v := os.Getenv("COURIER_EXCHANGE_URL"); v != "" {
		cfg.Exchange.URL = v
	}
	if v := os.Getenv("COURIER_EXCHANGE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Exchange.Interval = d
		}
	}
	if v := os.Getenv("COURIER_EXCHANGE_URGENT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Exchange.UrgentInterval = d
		}
	}
	if v := os.Getenv("COURIER_EXCHANGE_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.MaxMessages = n
		}
	}
	if v := os.Getenv("COURIER_HTTP_PROXY"); v != "" {
		cfg.Exchange.HTTPProxy = v
	} else if v := os.Getenv("http_proxy"); v != "" {
		cfg.Exchange.HTTPProxy = v
	}
	if v := os.Getenv("COURIER_HTTPS_PROXY"); v != "" {
		cfg.Exchange.HTTPSProxy = v
	} else if v := os.Getenv("https_proxy"); v != "" {
		cfg.Exchange.HTTPSProxy = v
	}

	if v := os.Getenv("COURIER_PING_URL"); v != "" {
		cfg.Ping.URL = v
	}
	if v := os.Getenv("COURIER_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ping.Interval = d
		}
	}

	if v := os.Getenv("COURIER_COMPUTER_TITLE"); v != "" {
		cfg.Registration.ComputerTitle = v
	}
	if v := os.Getenv("COURIER_ACCOUNT_NAME"); v != "" {
		cfg.Registration.AccountName = v
	}
	if v := os.Getenv("COURIER_REGISTRATION_KEY"); v != "" {
		cfg.Registration.RegistrationKey = v
	}
	if v := os.Getenv("COURIER_TAGS"); v != "" {
		cfg.Registration.Tags = v
	}
	if v := os.Getenv("COURIER_ACCESS_GROUP"); v != "" {
		cfg.Registration.AccessGroup = v
	}

	if v := os.Getenv("COURIER_DATA_PATH"); v != "" {
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("COURIER_MESSAGE_STORE_PATH"); v != "" {
		cfg.Storage.MessageStorePath = v
	}
	if v := os.Getenv("COURIER_EXCHANGE_STORE_PATH"); v != "" {
		cfg.Storage.ExchangeStorePath = v
	}
	if v := os.Getenv("COURIER_DIRECTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.DirectorySize = n
		}
	}

	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COURIER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("COURIER_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("COURIER_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("COURIER_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("COURIER_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}

	if v := os.Getenv("COURIER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("COURIER_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("COURIER_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	cfg.ResolvePaths()
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
