package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server. Values come from an
// optional yaml file, environment variables and defaults, in that order of
// precedence.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	GoogleClientID     string `mapstructure:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleBooksAPIKey  string `mapstructure:"GOOGLE_BOOKS_API_KEY"`
	OAuthRedirectURL   string `mapstructure:"OAUTH_REDIRECT_URL"`

	JWTSecret         string `mapstructure:"JWT_SECRET"`
	SessionTTLMinutes int    `mapstructure:"SESSION_TTL_MIN"`
	SearchCacheTTLSec int    `mapstructure:"SEARCH_CACHE_TTL_SEC"`
	SyncTimeoutSec    int    `mapstructure:"SYNC_TIMEOUT_SEC"`
}

// SessionTTL returns the session token lifetime.
func (c *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// SearchCacheTTL returns how long provider search results stay cached.
func (c *ServerConfig) SearchCacheTTL() time.Duration {
	return time.Duration(c.SearchCacheTTLSec) * time.Second
}

// SyncTimeout returns the deadline applied to background sync tasks.
func (c *ServerConfig) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSec) * time.Second
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/bookmirror/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "bookmirror")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/2")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OAUTH_REDIRECT_URL", "http://localhost:8000/oauth/google/redirect")
	v.SetDefault("SESSION_TTL_MIN", 120)
	v.SetDefault("SEARCH_CACHE_TTL_SEC", 600)
	v.SetDefault("SYNC_TIMEOUT_SEC", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET must be set")
	}

	return &cfg, nil
}
