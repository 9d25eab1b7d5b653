// Package cmd provides the CLI commands for joulia-live.
package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/joulia/joulia-live/internal/config"
)

// global flags
var (
	profileFile *os.File // held open for profiling
	configPath  string
	logPath     string
	verbose     bool
	outputJSON  bool
)

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "joulia-live",
	Short: "Real-time brewing telemetry server",
	Long: `joulia-live streams brewhouse sensor measurements between controllers
and dashboards.

It provides:
  - a WebSocket endpoint to publish and subscribe to sensor streams
  - backlog replay of stored measurements to new subscribers
  - long-poll endpoints that resolve when a recipe instance starts or ends

Commands:
  serve          Run the live server in the foreground
  status         Show running servers
  config         Create or print the configuration file
  hash-password  Hash a password for the credentials file
  version        Print the version

Examples:
  joulia-live serve                       # Serve with ~/.joulia-live/config.toml
  joulia-live serve --store sqlite        # Persist to SQLite instead of DuckDB
  joulia-live config init                 # Write a default configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if profilePath := os.Getenv("JOULIA_PROFILE"); profilePath != "" {
			f, err := os.Create(profilePath)
			if err != nil {
				return fmt.Errorf("create profile file: %w", err)
			}
			profileFile = f

			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				profileFile = nil
				return fmt.Errorf("start CPU profile: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.joulia-live/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write log to file")

	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	versionCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config, or the default file.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return cfg.Resolve()
}
