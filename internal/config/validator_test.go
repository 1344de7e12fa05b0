package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		setup     func()
		wantError bool
		errMsg    string
	}{
		{
			name: "Valid Configuration",
			setup: func() {
				viper.Set("storage.type", "sqlite")
				viper.Set("merge.workers", 4)
				viper.Set("dispatch.workers", 2)
				viper.Set("dispatch.timeout", 10)
				viper.Set("metrics_port", 2112)
			},
			wantError: false,
		},
		{
			name: "Invalid Workers",
			setup: func() {
				viper.Set("dispatch.workers", -1)
			},
			wantError: true,
			errMsg:    "dispatch.workers must be positive",
		},
		{
			name: "Invalid Dispatch Timeout",
			setup: func() {
				viper.Set("dispatch.timeout", 0)
			},
			wantError: true,
			errMsg:    "dispatch.timeout must be positive",
		},
		{
			name: "Unknown Storage Type",
			setup: func() {
				viper.Set("storage.type", "cassandra")
			},
			wantError: true,
			errMsg:    "storage.type must be sqlite or postgres",
		},
		{
			name: "Postgres Without Connection String",
			setup: func() {
				viper.Set("storage.type", "postgres")
			},
			wantError: true,
			errMsg:    "storage.connection_string is required",
		},
		{
			name: "Duplicate Source Priority",
			setup: func() {
				viper.Set("sources.priority", []string{"nvd", "mitre", "nvd"})
			},
			wantError: true,
			errMsg:    `sources.priority lists "nvd" more than once`,
		},
		{
			name: "Empty Source Name",
			setup: func() {
				viper.Set("sources.priority", []string{"nvd", ""})
			},
			wantError: true,
			errMsg:    "empty source names",
		},
		{
			name: "Invalid Port (Too High)",
			setup: func() {
				viper.Set("metrics_port", 70000)
			},
			wantError: true,
			errMsg:    "metrics_port must be between 1 and 65535",
		},
		{
			name: "Multiple Errors",
			setup: func() {
				viper.Set("merge.workers", 0)
				viper.Set("smtp.port", 80000)
			},
			wantError: true,
			errMsg:    "merge.workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			tt.setup()

			err := ValidateConfig()
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got: %v", tt.errMsg, err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}
