package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ValidateConfig validates configuration values and returns an error if any are invalid.
// This function should be called after viper has loaded the configuration.
func ValidateConfig() error {
	var errors []string

	// Validate worker counts (must be positive)
	for _, key := range []string{"merge.workers", "dispatch.workers"} {
		if viper.IsSet(key) {
			if n := viper.GetInt(key); n <= 0 {
				errors = append(errors, fmt.Sprintf("%s must be positive, got: %d", key, n))
			}
		}
	}

	// Validate dispatch timeout (seconds, must be positive)
	if viper.IsSet("dispatch.timeout") {
		if t := viper.GetInt("dispatch.timeout"); t <= 0 {
			errors = append(errors, fmt.Sprintf("dispatch.timeout must be positive, got: %d", t))
		}
	}

	// Validate storage backend
	switch storageType := viper.GetString("storage.type"); storageType {
	case "", "sqlite", "postgres":
	default:
		errors = append(errors, fmt.Sprintf("storage.type must be sqlite or postgres, got: %s", storageType))
	}
	if viper.GetString("storage.type") == "postgres" && viper.GetString("storage.connection_string") == "" {
		errors = append(errors, "storage.connection_string is required when storage.type is postgres")
	}

	// Validate source priority (no duplicates, no empty names)
	priority := viper.GetStringSlice("sources.priority")
	seen := make(map[string]bool)
	for _, src := range priority {
		if src == "" {
			errors = append(errors, "sources.priority must not contain empty source names")
			continue
		}
		if seen[src] {
			errors = append(errors, fmt.Sprintf("sources.priority lists %q more than once", src))
		}
		seen[src] = true
	}

	// Validate port numbers (if set, must be in valid range 1-65535)
	for _, key := range []string{"metrics_port", "smtp.port"} {
		if viper.IsSet(key) {
			if port := viper.GetInt(key); port < 1 || port > 65535 {
				errors = append(errors, fmt.Sprintf("%s must be between 1 and 65535, got: %d", key, port))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
