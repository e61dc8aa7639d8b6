package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetpulse/core/internal/agent"
	"github.com/fleetpulse/core/internal/config"
)

const retryDelay = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", getEnv("AGENTD_CONFIG", ""), "path to agent config file")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		return err
	}
	if hubURL := os.Getenv("AGENTD_HUB_URL"); hubURL != "" {
		cfg.HubURL = hubURL
	}

	collector, err := agent.NewCollector(cfg.Hostname)
	if err != nil {
		return err
	}
	uploader := agent.NewUploader(cfg.HubURL, collector, time.Duration(cfg.IntervalSeconds)*time.Second)

	log.Printf("Starting agent, reporting to %s every %ds", cfg.HubURL, cfg.IntervalSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return nil
		default:
			if err := uploader.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Upload loop error: %v, retrying in %s", err, retryDelay)
				time.Sleep(retryDelay)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
