package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stackroom/stacks"
	"github.com/stackroom/stacks/internal/store"
)

var (
	cfgFile      string
	cfgDBPath    string
	cfgServerURL string
	cfgAPIKey    string
	cfgDeviceID  string
	cfgDebug     bool
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Stacks - offline-first Stackroom catalog client",
	Long: `Stacks keeps a local replica of a Stackroom media catalog and keeps it
synchronized with the server: delta pulls, queued local edits, conflict
tracking, and a live event feed.

The replica lives in ~/.stacks by default and works fully offline;
configure a server URL and API key to sync.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.stacks/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to local replica database")
	rootCmd.PersistentFlags().StringVar(&cfgServerURL, "server-url", "", "URL of the Stackroom server")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for Stackroom authentication")
	rootCmd.PersistentFlags().StringVar(&cfgDeviceID, "device-id", "", "Device identifier sent to the server")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// loadConfig layers configuration: flags over environment over config file
// over defaults.
func loadConfig() (stacks.Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(store.DefaultDataRoot())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("sync_interval", "5m")
	v.SetDefault("auto_sync", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return stacks.Config{}, err
		}
	}

	cfg := stacks.DefaultConfig()

	if p := v.GetString("db_path"); p != "" {
		cfg.LocalPath = p
	}
	cfg.ServerURL = v.GetString("server_url")
	cfg.APIKey = v.GetString("api_key")
	if d := v.GetString("device_id"); d != "" {
		cfg.DeviceID = d
	}
	if iv := v.GetDuration("sync_interval"); iv > 0 {
		cfg.SyncInterval = iv
	}
	cfg.AutoSync = v.GetBool("auto_sync")
	cfg.Debug = v.GetBool("debug")
	cfg.DebugLogPath = v.GetString("debug_log")

	// Environment overrides the file.
	env := stacks.ConfigFromEnv()
	if env.LocalPath != "" {
		cfg.LocalPath = env.LocalPath
	}
	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}
	if env.APIKey != "" {
		cfg.APIKey = env.APIKey
	}
	if env.DeviceID != "" {
		cfg.DeviceID = env.DeviceID
	}
	if env.Debug {
		cfg.Debug = true
	}
	if env.DebugLogPath != "" {
		cfg.DebugLogPath = env.DebugLogPath
	}

	// Flags win over everything.
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgServerURL != "" {
		cfg.ServerURL = cfgServerURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgDeviceID != "" {
		cfg.DeviceID = cfgDeviceID
	}
	if cfgDebug {
		cfg.Debug = true
		if cfg.DebugLogPath == "" {
			cfg.DebugLogPath = filepath.Join(store.DefaultDataRoot(), "debug.log")
		}
	}

	// CLI invocations are one-shot; background sync belongs to long-lived
	// embedders and the watch command.
	cfg.AutoSync = false
	cfg.SyncInterval = 5 * time.Minute

	return cfg, nil
}

// openClient builds a client from the layered configuration.
func openClient() (*stacks.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return stacks.New(cfg)
}
