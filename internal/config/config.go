// Package config loads server configuration from the environment and
// an optional config file via viper. Every key is overridable with a
// FORGE_-prefixed environment variable (FORGE_PORT, FORGE_DB_URL).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved server configuration.
type Config struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DatabaseURL   string `mapstructure:"db_url"`
	LogLevel      string `mapstructure:"log_level"`
	ServerVersion string `mapstructure:"-"`
}

// Version is the protocol-visible server version, sent in welcome.
const Version = "0.1.0"

// Defaults.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 9998
)

// Load resolves configuration. file may be "" to skip config-file
// loading and use only defaults plus environment.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("db_url", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ServerVersion = Version
	return &cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
