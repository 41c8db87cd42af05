// Package config loads roomtrust settings from an optional file, defaults and
// ROOMTRUST_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/events"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/spf13/viper"
)

const envPrefix = "ROOMTRUST"

// #region types
// Config is the full process configuration.
type Config struct {
	DBPath  string             `mapstructure:"db_path"`
	HTTP    HTTPConfig         `mapstructure:"http"`
	GRPC    GRPCConfig         `mapstructure:"grpc"`
	Ledger  ledger.Config      `mapstructure:"ledger"`
	Gate    gate.GateConfig    `mapstructure:"gate"`
	Sweep   SweepConfig        `mapstructure:"sweep"`
	Log     logging.Config     `mapstructure:"log"`
	Kafka   events.KafkaConfig `mapstructure:"kafka"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
}

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig configures the health-check listener. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// SweepConfig configures the weekly sweep.
type SweepConfig struct {
	Timezone string `mapstructure:"timezone"` // IANA name, or "Local"
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// #endregion types

// #region load
// Load reads path when it is non-empty, layers environment overrides on the
// defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "data/roomtrust.db")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("grpc.addr", ":9090")

	v.SetDefault("ledger.max_retries", ledger.DefaultConfig().MaxRetries)

	g := gate.DefaultGateConfig()
	v.SetDefault("gate.critical_chore_cap", g.CriticalChoreCap)
	v.SetDefault("gate.low_chore_cap", g.LowChoreCap)

	v.SetDefault("sweep.timezone", "Local")

	l := logging.DefaultConfig()
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.output", l.Output)
	v.SetDefault("log.file_path", l.FilePath)
	v.SetDefault("log.max_size_mb", l.MaxSizeMB)
	v.SetDefault("log.max_backups", l.MaxBackups)
	v.SetDefault("log.max_age_days", l.MaxAgeDays)
	v.SetDefault("log.compress", l.Compress)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "roomtrust.score-changed")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("kafka.async", false)

	v.SetDefault("metrics.enabled", true)
}

// #endregion load

// #region validate
// Validate checks the settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_retries must be >= 0, got %d", c.Ledger.MaxRetries))
	}
	if c.Gate.CriticalChoreCap <= 0 || c.Gate.LowChoreCap <= 0 {
		errs = append(errs, fmt.Errorf("gate chore caps must be positive, got %d/%d",
			c.Gate.CriticalChoreCap, c.Gate.LowChoreCap))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	switch c.Log.Output {
	case "stdout", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("log.output must be stdout, file or both, got %q", c.Log.Output))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// Location resolves the sweep time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Sweep.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sweep.timezone %q: %w", c.Sweep.Timezone, err)
	}
	return loc, nil
}

// KafkaEnabled reports whether score events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// #endregion validate
