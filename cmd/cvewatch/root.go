package main

import (
	"fmt"
	"os"
	"time"

	"cvewatch/internal/config"
	"cvewatch/internal/db"
	"cvewatch/internal/notify"
	"cvewatch/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exit = os.Exit
var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cvewatch",
	Short: "cvewatch: vulnerability change tracking and notification",
	Long: `cvewatch merges vulnerability records from multiple sources into canonical
records, detects what changed, matches changes against project subscriptions
and delivers reports over webhooks or email.`,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'cvewatch --help' for usage.")
		exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend (sqlite or postgres)")
	rootCmd.PersistentFlags().String("db", "", "SQLite path or Postgres connection string")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("storage.type", rootCmd.PersistentFlags().Lookup("storage"))
	viper.BindPFlag("storage.connection_string", rootCmd.PersistentFlags().Lookup("db"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.Load(cfgFile)

	if err := config.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}

	telemetry.InitLogger(viper.GetBool("verbose"), viper.GetString("log_file"))
}

// openStore builds the configured storage backend.
func openStore() (db.Store, error) {
	conn := viper.GetString("storage.connection_string")
	if conn == "" && viper.GetString("storage.type") != "postgres" {
		conn = viper.GetString("storage.path")
	}
	return db.NewStore(db.StoreConfig{
		Type:             viper.GetString("storage.type"),
		ConnectionString: conn,
	})
}

func smtpFromConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     viper.GetString("smtp.host"),
		Port:     viper.GetInt("smtp.port"),
		From:     viper.GetString("smtp.from"),
		Username: viper.GetString("smtp.username"),
		Password: viper.GetString("smtp.password"),
	}
}

func dispatchTimeout() time.Duration {
	return time.Duration(viper.GetInt("dispatch.timeout")) * time.Second
}
