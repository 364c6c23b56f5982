// Package config loads Apollo's runtime configuration: process topology
// (§2's Rank/Nodes/Procs/CPUsPerNode), the initial model spec, and the
// external-handle endpoints (telemetry daemon, ingest broker, history
// database).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the Apollo runtime.
type Config struct {
	App         AppConfig         `mapstructure:"app" validate:"required"`
	Topology    TopologyConfig    `mapstructure:"topology" validate:"required"`
	InitModel   InitModelConfig   `mapstructure:"init_model"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	History     HistoryConfig     `mapstructure:"history"`
	AutoFlush   AutoFlushConfig   `mapstructure:"autoflush"`
	Observability ObservabilityConfig `mapstructure:"observability" validate:"required"`
}

type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	HTTPAddress string `mapstructure:"http_address" validate:"required"`
}

// TopologyConfig mirrors §2's process-topology fields, sourced from the
// SLURM environment when present (original's getRankAndNodeID /
// getTopology behavior).
type TopologyConfig struct {
	Rank              int  `mapstructure:"rank"`
	Nodes             int  `mapstructure:"nodes" validate:"gte=0"`
	Procs             int  `mapstructure:"procs" validate:"gte=0"`
	CPUsPerNode       int  `mapstructure:"cpus_per_node" validate:"gte=0"`
	ThreadsPerProcCap int  `mapstructure:"threads_per_proc_cap" validate:"gte=0"`
	RequireTopology   bool `mapstructure:"require_topology"`
}

// InitModelConfig captures the APOLLO_INIT_MODEL env var, which the
// original parses as "<Kind>[,<arg>]" (e.g. "Static,0", "DecisionTree").
type InitModelConfig struct {
	Spec string `mapstructure:"spec"`
}

type TelemetryConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	Transport string `mapstructure:"transport" validate:"omitempty,oneof=amqp redis none"`
	AMQPURL   string `mapstructure:"amqp_url"`
	RedisURL  string `mapstructure:"redis_url"`
	QueueName string `mapstructure:"queue_name"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// AutoFlushConfig drives the optional step-cadence auto-flush loop: a
// poll every Interval that triggers FlushAllRegionMeasurements once
// the summed per-step execution count across all regions reaches
// Threshold, mirroring the original's APOLLO_COLLECTIVE_INTERVAL.
type AutoFlushConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold uint64        `mapstructure:"threshold" validate:"omitempty,gt=0"`
	Interval  time.Duration `mapstructure:"interval"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" validate:"required"`
	MetricsAddr  string `mapstructure:"metrics_address" validate:"required"`
}

// Load reads configuration from an optional YAML file, environment
// variables, and built-in defaults, in that precedence order.
func Load() (*Config, error) {
	viper.SetConfigName("apollo")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/apollo")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Topology.RequireTopology {
		if cfg.Topology.Nodes == 0 || cfg.Topology.Procs == 0 || cfg.Topology.CPUsPerNode == 0 || cfg.Topology.ThreadsPerProcCap == 0 {
			return nil, fmt.Errorf("topology.require_topology is set but no topology was discovered")
		}
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "apollod")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.http_address", ":8089")

	viper.SetDefault("topology.rank", 0)
	viper.SetDefault("topology.nodes", 1)
	viper.SetDefault("topology.procs", 1)
	viper.SetDefault("topology.cpus_per_node", 1)
	viper.SetDefault("topology.threads_per_proc_cap", 1)
	viper.SetDefault("topology.require_topology", false)

	viper.SetDefault("telemetry.timeout", "2s")

	viper.SetDefault("ingest.transport", "none")
	viper.SetDefault("ingest.queue_name", "apollo.models")

	viper.SetDefault("history.enabled", false)

	viper.SetDefault("autoflush.enabled", false)
	viper.SetDefault("autoflush.threshold", 1000)
	viper.SetDefault("autoflush.interval", "5s")

	viper.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
	viper.SetDefault("observability.service_name", "apollo")
	viper.SetDefault("observability.metrics_address", ":9090")
}

func bindEnvVars() {
	viper.BindEnv("app.environment", "APOLLO_ENV")

	viper.BindEnv("topology.rank", "SLURM_PROCID")
	viper.BindEnv("topology.nodes", "SLURM_NNODES")
	viper.BindEnv("topology.procs", "SLURM_NPROCS")
	viper.BindEnv("topology.cpus_per_node", "SLURM_CPUS_ON_NODE")
	viper.BindEnv("topology.threads_per_proc_cap", "APOLLO_MAX_THREADS_PER_PROC")
	viper.BindEnv("topology.require_topology", "APOLLO_REQUIRE_TOPOLOGY")

	viper.BindEnv("init_model.spec", "APOLLO_INIT_MODEL")

	viper.BindEnv("telemetry.address", "APOLLO_TELEMETRY_ADDR")

	viper.BindEnv("ingest.transport", "APOLLO_INGEST_TRANSPORT")
	viper.BindEnv("ingest.amqp_url", "APOLLO_AMQP_URL")
	viper.BindEnv("ingest.redis_url", "APOLLO_REDIS_URL")

	viper.BindEnv("history.enabled", "APOLLO_HISTORY_ENABLED")
	viper.BindEnv("history.dsn", "APOLLO_HISTORY_DSN")

	viper.BindEnv("autoflush.enabled", "APOLLO_AUTOFLUSH_ENABLED")
	viper.BindEnv("autoflush.threshold", "APOLLO_COLLECTIVE_INTERVAL")
	viper.BindEnv("autoflush.interval", "APOLLO_AUTOFLUSH_POLL_INTERVAL")

	viper.BindEnv("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("observability.service_name", "OTEL_SERVICE_NAME")
	viper.BindEnv("observability.metrics_address", "APOLLO_METRICS_ADDR")
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	return validate.Struct(cfg)
}
