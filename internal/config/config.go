// Package config loads service configuration from the environment, with an
// optional YAML file override for deployments that prefer files.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spitak/steps-rewards/pkg/logger"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port            int    `env:"SERVER_PORT,default=8080" yaml:"port"`
	ReadTimeoutSec  int    `env:"SERVER_READ_TIMEOUT,default=15" yaml:"read_timeout"`
	WriteTimeoutSec int    `env:"SERVER_WRITE_TIMEOUT,default=15" yaml:"write_timeout"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres" yaml:"driver"`
	DSN             string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10" yaml:"max_open_conns"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME,default=300" yaml:"conn_max_lifetime"`
}

// CORSConfig lists origins allowed by the HTTP middleware.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*" yaml:"allowed_origins"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	CORS     CORSConfig           `yaml:"cors"`
}

// Load reads configuration from the environment. A .env file is honoured when
// present; CONFIG_FILE may point at a YAML file whose values are applied
// before the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
