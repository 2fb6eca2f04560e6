package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var defineFlagsOnce sync.Once

// Load reads configuration with the following precedence:
// 1. Explicit overrides (interactive password prompt, password file)
// 2. Command line flags
// 3. Environment variables (prefix BLITZ, e.g. BLITZ_DATABASE_HOST)
// 4. Config file (--config, or blitzorm.yaml in the usual locations)
// 5. Default values
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("blitzorm")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/blitzorm/")
		v.AddConfigPath("$HOME/.blitzorm")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BLITZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)

	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readPasswordFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}

	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword(v.GetString("database.user"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.database", "test")
	v.SetDefault("database.pool.max_open", 10)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", "30m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("observability.service_name", "blitzorm")
	v.SetDefault("observability.environment", "development")
}

// flagBindings maps flag names to viper keys.
var flagBindings = map[string]string{
	"database-dsn":      "database.dsn",
	"database-host":     "database.host",
	"database-port":     "database.port",
	"database-user":     "database.user",
	"database-database": "database.database",
	"log-level":         "logging.level",
	"log-format":        "logging.format",
}

func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("config", "", "path to config file")
		pflag.String("database-dsn", "", "database DSN (user:password@tcp(host:port)/db)")
		pflag.String("database-host", "", "database host")
		pflag.Int("database-port", 4000, "database port")
		pflag.String("database-user", "root", "database user")
		pflag.String("database-database", "test", "database name")
		pflag.String("log-level", "info", "log level (debug, info, warn, error)")
		pflag.String("log-format", "text", "log format (json, text)")
	})
}

// bindChangedFlagsToViper applies only flags the user actually set,
// so flag defaults do not shadow env vars or the config file.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if key, ok := flagBindings[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})
}

func readPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func promptPassword(user string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password prompt requires an interactive terminal")
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	pwd, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
