// Package config loads client defaults from an optional config file
// and REMOTE_CLIENT_* environment variables. Command-line flags take
// precedence over everything here.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the client defaults.
type Config struct {
	// Remote is the host:port of the cache frontend.
	Remote string `mapstructure:"remote"`
	// InstanceName is the remote instance prefix.
	InstanceName string `mapstructure:"instance_name"`
	// TLS enables transport security.
	TLS bool `mapstructure:"tls"`
	// Zstd enables compressed blob transfers.
	Zstd bool `mapstructure:"zstd"`
	// DiskCache is a directory for the local blob cache; empty disables
	// it.
	DiskCache string `mapstructure:"disk_cache"`
	// Limit is the default display limit for listings.
	Limit int `mapstructure:"limit"`
	// LogLevel is the zap level name.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads remote-client.yaml from path (or the working directory and
// $HOME when path is empty). A missing file is not an error; defaults
// still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	// Every key needs a default registered for env lookup to apply.
	v.SetDefault("remote", "")
	v.SetDefault("instance_name", "")
	v.SetDefault("tls", false)
	v.SetDefault("zstd", false)
	v.SetDefault("disk_cache", "")
	v.SetDefault("limit", 100)
	v.SetDefault("log_level", "warn")

	v.SetEnvPrefix("REMOTE_CLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("remote-client")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
