// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Hub        HubConfig        `yaml:"hub"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type HubConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

type AlertsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	WarnAfter     time.Duration `yaml:"warn_after"`
	InactiveAfter time.Duration `yaml:"inactive_after"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a config usable without a file on disk.
func Default() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/pointage.db"
	}
	if cfg.Database.StoreTimeout == 0 {
		cfg.Database.StoreTimeout = 5 * time.Second
	}

	// Hub defaults
	if cfg.Hub.SendBuffer == 0 {
		cfg.Hub.SendBuffer = 256
	}
	if cfg.Hub.PongWait == 0 {
		cfg.Hub.PongWait = 60 * time.Second
	}
	if cfg.Hub.PingInterval == 0 {
		cfg.Hub.PingInterval = (cfg.Hub.PongWait * 9) / 10
	}
	if cfg.Hub.WriteWait == 0 {
		cfg.Hub.WriteWait = 10 * time.Second
	}
	if cfg.Hub.MaxMessageSize == 0 {
		cfg.Hub.MaxMessageSize = 64 * 1024
	}

	// Alert sweep defaults
	if cfg.Alerts.SweepInterval == 0 {
		cfg.Alerts.SweepInterval = time.Hour
	}
	if cfg.Alerts.WarnAfter == 0 {
		cfg.Alerts.WarnAfter = 24 * time.Hour
	}
	if cfg.Alerts.InactiveAfter == 0 {
		cfg.Alerts.InactiveAfter = 72 * time.Hour
	}

	// Prometheus defaults
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	if !strings.HasPrefix(cfg.Server.Port, ":") {
		return fmt.Errorf("server.port must start with ':'")
	}
	if cfg.Database.StoreTimeout <= 0 {
		return fmt.Errorf("database.store_timeout must be positive")
	}
	if cfg.Hub.SendBuffer < 1 {
		return fmt.Errorf("hub.send_buffer must be at least 1")
	}
	if cfg.Hub.PingInterval >= cfg.Hub.PongWait {
		return fmt.Errorf("hub.ping_interval must be shorter than hub.pong_wait")
	}
	if cfg.Alerts.WarnAfter >= cfg.Alerts.InactiveAfter {
		return fmt.Errorf("alerts.warn_after must be shorter than alerts.inactive_after")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
