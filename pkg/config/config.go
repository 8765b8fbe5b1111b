// Package config loads msgbus settings from YAML files and MSGBUS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/observability/otel"
)

// EnvPrefix prefixes environment overrides, e.g. MSGBUS_QUEUE_CAPACITY.
const EnvPrefix = "MSGBUS"

type BusConfig struct {
	AsyncLimit     int `mapstructure:"async_limit" yaml:"async_limit" json:"async_limit"`
	RecentFailures int `mapstructure:"recent_failures" yaml:"recent_failures" json:"recent_failures"`
}

type QueueConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Capacity int  `mapstructure:"capacity" yaml:"capacity" json:"capacity"` // 0 = unbounded
	// Overflow is "block" or "reject"; only used when Capacity > 0.
	Overflow string `mapstructure:"overflow" yaml:"overflow" json:"overflow"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"` // e.g., 0.0.0.0:9090
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
}

type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter" yaml:"exporter" json:"exporter"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Environment string  `mapstructure:"environment" yaml:"environment" json:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
}

// Config is the complete msgbus configuration.
type Config struct {
	Bus             BusConfig     `mapstructure:"bus" yaml:"bus" json:"bus"`
	Queue           QueueConfig   `mapstructure:"queue" yaml:"queue" json:"queue"`
	Logging         LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics         MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing         TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			AsyncLimit:     0,
			RecentFailures: 64,
		},
		Queue: QueueConfig{
			Enabled:  true,
			Capacity: 0,
			Overflow: bus.OverflowBlock.String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Namespace:  "msgbus",
			ListenAddr: "127.0.0.1:9090",
			Path:       "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "msgbus",
			Environment: "development",
			SampleRate:  1.0,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads the YAML file at path, if any, over the defaults and applies
// MSGBUS_* environment overrides (MSGBUS_QUEUE_CAPACITY overrides
// queue.capacity). The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("bus.async_limit", d.Bus.AsyncLimit)
	v.SetDefault("bus.recent_failures", d.Bus.RecentFailures)
	v.SetDefault("queue.enabled", d.Queue.Enabled)
	v.SetDefault("queue.capacity", d.Queue.Capacity)
	v.SetDefault("queue.overflow", d.Queue.Overflow)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// Validate checks the configuration and returns a *core.ConstructionError
// describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Bus.AsyncLimit < 0 {
		errs = append(errs, fmt.Errorf("bus.async_limit must not be negative"))
	}
	if c.Bus.RecentFailures < 0 {
		errs = append(errs, fmt.Errorf("bus.recent_failures must not be negative"))
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must not be negative"))
	}
	if _, err := ParseOverflow(c.Queue.Overflow); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("metrics.listen_addr is required when metrics are enabled"))
	}
	if err := c.Tracing.OTel().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := core.ValidateTimeout(c.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
	}
	if len(errs) > 0 {
		return core.NewConstructionError("config", errors.Join(errs...))
	}
	return nil
}

// ParseOverflow maps "block" or "reject" to a bus.OverflowPolicy. Empty
// means block.
func ParseOverflow(s string) (bus.OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return bus.OverflowBlock, nil
	case "reject":
		return bus.OverflowReject, nil
	default:
		return bus.OverflowBlock, fmt.Errorf("queue.overflow must be block or reject, got %q", s)
	}
}

// OTel converts the tracing section to an otel.Config.
func (t TracingConfig) OTel() otel.Config {
	cfg := otel.DefaultConfig()
	cfg.Exporter = t.Exporter
	cfg.Endpoint = t.Endpoint
	cfg.ServiceName = t.ServiceName
	cfg.Environment = t.Environment
	cfg.SampleRate = t.SampleRate
	return cfg
}

// LoggerConfig converts the logging section to a core.LoggerConfig.
func (l LoggingConfig) LoggerConfig() core.LoggerConfig {
	return core.LoggerConfig{Level: l.Level, JSONOutput: l.JSON}
}
