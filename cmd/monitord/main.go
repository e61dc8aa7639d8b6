package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/fleetpulse/core/internal/backend"
	"github.com/fleetpulse/core/internal/config"
)

const maintenanceInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", getEnv("MONITORD_CONFIG", ""), "path to hub config file")
	flag.Parse()

	cfg, err := config.LoadHub(*configPath)
	if err != nil {
		return err
	}
	if dbPath := os.Getenv("MONITORD_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	db, err := backend.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	auth := backend.NewAuth(db)
	hub := backend.NewHub(db, cfg.Thresholds, time.Duration(cfg.EmitIntervalSeconds)*time.Second)

	mux := http.NewServeMux()
	backend.NewAPI(db, auth).RegisterRoutes(mux)
	hub.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go startMaintenance(ctx, hub, cfg)

	if cfg.Consul.Enabled {
		if err := registerConsul(cfg.Consul); err != nil {
			log.Printf("Warning: failed to register with Consul: %v", err)
		}
		defer deregisterConsul(cfg.Consul)
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Hub listening on %s", cfg.Listen)
		errChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		httpServer.Shutdown(context.Background())
		return nil
	}
}

func startMaintenance(ctx context.Context, hub *backend.Hub, cfg config.Hub) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	offlineAfter := time.Duration(cfg.OfflineAfterSeconds) * time.Second
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.Maintenance(offlineAfter, retention)
		}
	}
}

func registerConsul(cfg config.Consul) error {
	consulCfg := consul.DefaultConfig()
	consulCfg.Address = cfg.Address
	client, err := consul.NewClient(consulCfg)
	if err != nil {
		return err
	}

	registration := &consul.AgentServiceRegistration{
		ID:   cfg.ServiceName,
		Name: cfg.ServiceName,
		Port: cfg.ServicePort,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://localhost:%d/api/servers", cfg.ServicePort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"telemetry", "hub", "http"},
	}

	return client.Agent().ServiceRegister(registration)
}

func deregisterConsul(cfg config.Consul) {
	consulCfg := consul.DefaultConfig()
	consulCfg.Address = cfg.Address
	client, err := consul.NewClient(consulCfg)
	if err != nil {
		log.Printf("Error creating consul client for deregistration: %v", err)
		return
	}
	if err := client.Agent().ServiceDeregister(cfg.ServiceName); err != nil {
		log.Printf("Error deregistering service: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
