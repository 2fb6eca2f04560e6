// Package config loads backend configuration from defaults, a config
// file, environment variables, and command line flags.
package config

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds the backend configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// DSN is a complete go-sql-driver/mysql data source name.
	// When set, it overrides the discrete fields below.
	DSN string `mapstructure:"dsn"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	Pool PoolConfig `mapstructure:"pool"`
}

// LoggingConfig holds structured logging parameters.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds telemetry identity parameters.
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
}

// FormatDSN renders the connection string for the mysql driver,
// preferring an explicit DSN over discrete fields.
func (d DatabaseConfig) FormatDSN() (string, error) {
	if d.DSN != "" {
		if _, err := mysql.ParseDSN(d.DSN); err != nil {
			return "", fmt.Errorf("invalid database DSN: %w", err)
		}
		return d.DSN, nil
	}
	if d.Host == "" {
		return "", fmt.Errorf("database host or DSN is required")
	}

	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
	cfg.DBName = d.Database
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
