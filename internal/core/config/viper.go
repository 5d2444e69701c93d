package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultServerConfig
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("rules.extended_paths", true)
	v.SetDefault("rules.scripts_enabled", true)
	v.SetDefault("rules.script_cost_limit", 1_000_000)
	v.SetDefault("rules.script_timeout", "100ms")
	v.SetDefault("events.callback_timeout", "10s")

	// Bind environment variables with FK_ prefix
	v.SetEnvPrefix("FK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject secrets in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Host:            v.GetString("server.host"),
		Port:            v.GetInt("server.port"),
		RequestTimeout:  v.GetDuration("server.request_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		ExtendedPaths:   v.GetBool("rules.extended_paths"),
		ScriptsEnabled:  v.GetBool("rules.scripts_enabled"),
		ScriptCostLimit: v.GetUint64("rules.script_cost_limit"),
		ScriptTimeout:   v.GetDuration("rules.script_timeout"),
		CallbackTimeout: v.GetDuration("events.callback_timeout"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range and positive timeouts and limits.
func validateConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", cfg.ShutdownTimeout)
	}
	if cfg.ScriptsEnabled {
		if cfg.ScriptCostLimit == 0 {
			return fmt.Errorf("script_cost_limit must be positive when scripts are enabled")
		}
		if cfg.ScriptTimeout <= 0 {
			return fmt.Errorf("script_timeout must be positive when scripts are enabled, got %v", cfg.ScriptTimeout)
		}
	}
	if cfg.CallbackTimeout <= 0 {
		return fmt.Errorf("callback_timeout must be positive, got %v", cfg.CallbackTimeout)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use FK_HMAC_SECRET environment variable)")
	}
	return nil
}
