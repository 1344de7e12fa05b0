package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration from file and environment variables.
func Load(cfgFile string) {
	// explicit .env loading; a missing file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CVEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// Honor plain DATABASE_URL the way most deployments set it.
	if os.Getenv("CVEWATCH_STORAGE_CONNECTION_STRING") == "" && os.Getenv("DATABASE_URL") != "" {
		viper.SetDefault("storage.connection_string", os.Getenv("DATABASE_URL"))
	}

	// Set defaults
	viper.SetDefault("sources.priority", []string{"vulnrichment", "nvd", "mitre", "redhat"})
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.path", ".cvewatch.db")
	viper.SetDefault("merge.workers", 4)
	viper.SetDefault("dispatch.workers", 4)
	viper.SetDefault("dispatch.timeout", 10)
	viper.SetDefault("smtp.host", "")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "alerts@cvewatch.local")
	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("verbose", false)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
