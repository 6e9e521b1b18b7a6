package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/quipgate/")
	viper.AddConfigPath("$HOME/.quipgate/")

	// Environment variable overrides
	viper.SetEnvPrefix("QUIPGATE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.URL == "" {
		return fmt.Errorf("database url must be set")
	}

	if config.Protection.MaxConnectionsPerMinute <= 0 {
		return fmt.Errorf("invalid connection rate threshold: %d", config.Protection.MaxConnectionsPerMinute)
	}

	if config.Protection.WindowSize <= 0 || config.Protection.BlockDuration <= 0 {
		return fmt.Errorf("protection window and block duration must be positive")
	}

	if config.Classifier.BlockThreshold <= 0 {
		return fmt.Errorf("invalid classifier block threshold: %d", config.Classifier.BlockThreshold)
	}

	for _, threshold := range []float64{
		config.Classifier.AdminThreshold,
		config.Classifier.StaffThreshold,
		config.Classifier.AnalystThreshold,
	} {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("confidence thresholds must lie in [0,1], got %v", threshold)
		}
	}

	if config.Resource.MinStatementTimeout > config.Resource.BaseStatementTimeout {
		return fmt.Errorf("min statement timeout exceeds base statement timeout")
	}

	if len(config.Schema) == 0 {
		return fmt.Errorf("schema must list at least one relation")
	}
	if _, err := config.BuildSchema(); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
