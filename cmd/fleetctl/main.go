package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetpulse/core/internal/config"
)

var (
	configPath string
	baseURL    string
	streamURL  string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "CLI for the FleetPulse monitoring hub",
	Long: `fleetctl is a command-line interface for the FleetPulse monitoring hub.

It provides commands to list servers, inspect classified alerts, follow the
live telemetry feed and check the unread-alert badge.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("FLEETCTL_CONFIG", ""), "path to CLI config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "hub API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&streamURL, "stream-url", "", "hub live websocket URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(badgeCmd)
}

func loadConfig() (config.CLI, error) {
	cfg, err := config.LoadCLI(configPath)
	if err != nil {
		return config.CLI{}, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if streamURL != "" {
		cfg.StreamURL = streamURL
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
