// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr         string        `mapstructure:"HTTP_ADDR"`
	DBURL            string        `mapstructure:"DB_URL"`
	ReposRoot        string        `mapstructure:"REPOS_ROOT"`
	SyncInterval     time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncConcurrency  int           `mapstructure:"SYNC_CONCURRENCY"`
	MaxAttempts      int           `mapstructure:"MAX_ATTEMPTS"`
	RetryBackoff     time.Duration `mapstructure:"RETRY_BACKOFF"`
	OpTimeout        time.Duration `mapstructure:"OP_TIMEOUT"`
	FailureThreshold int           `mapstructure:"FAILURE_THRESHOLD"`
	GithubToken      string        `mapstructure:"GITHUB_TOKEN"`
	GitlabToken      string        `mapstructure:"GITLAB_TOKEN"`
	GiteaToken       string        `mapstructure:"GITEA_TOKEN"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("SYNC_CONCURRENCY", 5)
	viper.SetDefault("MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BACKOFF", "60s")
	viper.SetDefault("OP_TIMEOUT", "30m")
	viper.SetDefault("FAILURE_THRESHOLD", 3)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.ReposRoot == "" {
		return nil, errors.New("REPOS_ROOT is a required configuration field")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SyncConcurrency < 1 {
		return nil, errors.New("SYNC_CONCURRENCY must be at least 1")
	}

	return &cfg, nil
}
