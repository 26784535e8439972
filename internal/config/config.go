// Package config loads the relay's configuration from defaults, an
// optional config file, and environment variables, using
// github.com/spf13/viper. CLI flags (bound by cmd/relaysrv) take final
// precedence over all three. Grounded on sun977-NeoScan's
// internal/config/{loader,env}.go, which layer viper the same way; this
// package keeps the teacher's Config struct-of-structs shape
// (meesudzu-jx2-paysys/internal/config/config.go) rather than the hand-
// rolled INI parser that populated it.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig configures the TCP listener the chat relay binds.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// MetricsConfig configures the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config is the entire relay configuration.
type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	LogLevel string        `mapstructure:"log_level"`
}

const (
	defaultListen        = "0.0.0.0:34551"
	defaultMetricsListen = "127.0.0.1:9109"
	defaultLogLevel      = "info"
	envPrefix            = "RELAY"
)

// Load builds a Config from defaults, an optional file at path (ignored if
// path is empty and no default config file is found), and RELAY_-prefixed
// environment variables, in that ascending order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", defaultListen)
	v.SetDefault("metrics.listen", defaultMetricsListen)
	v.SetDefault("log_level", defaultLogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chatrelay")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// ApplyOverrides lets the CLI layer push flag values over whatever Load
// produced, only when the flag was actually set (empty string means "use
// what Load already resolved").
func (c *Config) ApplyOverrides(listen, metricsListen, logLevel string) {
	if listen != "" {
		c.Server.Listen = listen
	}
	if metricsListen != "" {
		c.Metrics.Listen = metricsListen
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}
