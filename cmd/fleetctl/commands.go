package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetpulse/core/internal/api"
	"github.com/fleetpulse/core/internal/cli"
	"github.com/fleetpulse/core/internal/engine"
	"github.com/fleetpulse/core/internal/history"
	"github.com/fleetpulse/core/internal/severity"
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Authenticate against the hub and store the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Fprint(os.Stderr, "Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		client := api.NewClient(cfg.BaseURL)
		sess, err := client.Login(cmd.Context(), api.Credentials{
			Username: args[0],
			Password: string(password),
		})
		if err != nil {
			return err
		}

		if err := saveSession(session{Token: sess.Token, UserID: sess.UserID}); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (user %d)\n", args[0], sess.UserID)
		return nil
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, _, err := authedClient(cfg.BaseURL)
		if err != nil {
			return err
		}

		servers, err := client.Servers(cmd.Context())
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(servers)
		}
		return cli.FormatServersTable(os.Stdout, servers)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show classified alerts for a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, _, err := authedClient(cfg.BaseURL)
		if err != nil {
			return err
		}

		serverID, _ := cmd.Flags().GetInt64("server")
		rangeName, _ := cmd.Flags().GetString("range")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		priority, _ := cmd.Flags().GetString("priority")

		w, err := resolveWindow(rangeName, from, to)
		if err != nil {
			return err
		}

		eng := engine.New(client, cfg.StreamURL, 0, cfg.Retention)
		defer eng.Close()
		eng.AddServer(serverID)

		alerts, err := eng.AlertsView(cmd.Context(), serverID, w, severity.Severity(priority))
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(alerts)
		}
		return cli.FormatAlertsTable(os.Stdout, alerts)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live telemetry feed for a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, sess, err := authedClient(cfg.BaseURL)
		if err != nil {
			return err
		}

		serverID, _ := cmd.Flags().GetInt64("server")
		rangeName, _ := cmd.Flags().GetString("range")

		eng := engine.New(client, cfg.StreamURL, sess.UserID, cfg.Retention)
		defer eng.Close()

		if err := eng.RefreshScope(cmd.Context()); err != nil {
			return err
		}
		if serverID != 0 {
			eng.AddServer(serverID)
		}

		if _, err := eng.Watch(cmd.Context(), serverID, rangeName); err != nil {
			fmt.Fprintf(os.Stderr, "History preload incomplete: %v\n", err)
		}
		if err := eng.Connect(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Live channel unavailable: %v\n", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		targets := eng.Scope()
		if serverID != 0 {
			targets = []int64{serverID}
		}

		for {
			select {
			case <-sigChan:
				return nil
			case <-ticker.C:
				now := time.Now().UTC()
				w := history.PresetWindow(rangeName, now)
				for _, id := range targets {
					feed := eng.LiveFeed(id, w)
					if len(feed) == 0 {
						continue
					}
					fmt.Printf("server %d  (%d samples", id, len(feed))
					if !eng.Stream().Connected() {
						fmt.Printf(", live channel down")
					}
					fmt.Println(")")
					if err := cli.FormatFeedTable(os.Stdout, feed[:min(len(feed), 5)]); err != nil {
						return err
					}
				}
			}
		}
	},
}

var badgeCmd = &cobra.Command{
	Use:   "badge",
	Short: "Show the unread-alert count across subscribed servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, sess, err := authedClient(cfg.BaseURL)
		if err != nil {
			return err
		}

		eng := engine.New(client, cfg.StreamURL, sess.UserID, cfg.Retention)
		defer eng.Close()

		if err := eng.RefreshScope(cmd.Context()); err != nil {
			return err
		}
		count := eng.Badge().Recompute(cmd.Context())

		if outputJSON {
			return cli.FormatJSON(map[string]interface{}{"unread": count})
		}
		fmt.Printf("Unread alerts: %d\n", count)
		return nil
	},
}

func init() {
	alertsCmd.Flags().Int64("server", 0, "server id")
	alertsCmd.Flags().String("range", "1day", "preset range (1hour, 6hours, 12hours, 1day, 1week, 1month)")
	alertsCmd.Flags().String("from", "", "custom range start date (YYYY-MM-DD)")
	alertsCmd.Flags().String("to", "", "custom range end date (YYYY-MM-DD)")
	alertsCmd.Flags().String("priority", "all", "severity tier filter (all, high, medium, low)")
	alertsCmd.MarkFlagRequired("server")

	watchCmd.Flags().Int64("server", 0, "server id (default: all subscribed)")
	watchCmd.Flags().String("range", "1hour", "preset range for the history preload")
}

// resolveWindow prefers an explicit date pair over the preset.
func resolveWindow(preset, from, to string) (history.Window, error) {
	if from != "" || to != "" {
		if from == "" || to == "" {
			return history.Window{}, fmt.Errorf("--from and --to must be given together")
		}
		start, err := time.ParseInLocation("2006-01-02", from, time.UTC)
		if err != nil {
			return history.Window{}, fmt.Errorf("parse --from: %w", err)
		}
		end, err := time.ParseInLocation("2006-01-02", to, time.UTC)
		if err != nil {
			return history.Window{}, fmt.Errorf("parse --to: %w", err)
		}
		return history.CustomWindow(start, end), nil
	}
	return history.PresetWindow(preset, time.Now().UTC()), nil
}
