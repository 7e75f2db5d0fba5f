package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "MARGINALIA"
	defaultHTTPAddress   = "0.0.0.0:8000"
	defaultDatabasePath  = "marginalia.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 12 * time.Hour
	defaultUploadLimitMB = 10
	defaultPageSize      = 100
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	RedisAddress  string
	SigningSecret string
	TokenTTL      time.Duration
	UploadLimitMB int64
	PageSize      int
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("auth.token_ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("upload.limit_mb", defaultUploadLimitMB)
	configViper.SetDefault("annotations.page_size", defaultPageSize)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		RedisAddress:  configViper.GetString("redis.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		UploadLimitMB: configViper.GetInt64("upload.limit_mb"),
		PageSize:      configViper.GetInt("annotations.page_size"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.UploadLimitMB <= 0 {
		return fmt.Errorf("upload.limit_mb must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("annotations.page_size must be positive")
	}
	return nil
}
