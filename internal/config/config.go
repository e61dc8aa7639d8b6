package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetpulse/core/internal/severity"
)

// Hub configures the monitord binary. Durations are plain seconds/days so the
// file stays hand-editable.
type Hub struct {
	Listen              string              `yaml:"listen"`
	DBPath              string              `yaml:"db_path"`
	Thresholds          severity.Thresholds `yaml:"thresholds"`
	EmitIntervalSeconds int                 `yaml:"emit_interval_seconds"`
	OfflineAfterSeconds int                 `yaml:"offline_after_seconds"`
	RetentionDays       int                 `yaml:"retention_days"`
	Consul              Consul              `yaml:"consul"`
}

type Consul struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	ServiceName string `yaml:"service_name"`
	ServicePort int    `yaml:"service_port"`
}

// Agent configures the agentd binary.
type Agent struct {
	HubURL          string `yaml:"hub_url"`
	Hostname        string `yaml:"hostname"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// CLI configures fleetctl defaults; flags override these.
type CLI struct {
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`
	Retention int    `yaml:"retention"`
}

func DefaultHub() Hub {
	return Hub{
		Listen:              ":8080",
		DBPath:              "fleetpulse.db",
		Thresholds:          severity.DefaultThresholds(),
		EmitIntervalSeconds: 30,
		OfflineAfterSeconds: 120,
		RetentionDays:       30,
		Consul: Consul{
			Address:     "localhost:8500",
			ServiceName: "fleetpulse-hub",
			ServicePort: 8080,
		},
	}
}

func DefaultAgent() Agent {
	return Agent{
		HubURL:          "ws://localhost:8080/ws/agent",
		IntervalSeconds: 30,
	}
}

func DefaultCLI() CLI {
	return CLI{
		BaseURL:   "http://localhost:8080/api",
		StreamURL: "ws://localhost:8080/ws/live",
		Retention: 5000,
	}
}

// LoadHub reads a hub config file over the defaults. An empty path returns
// the defaults untouched.
func LoadHub(path string) (Hub, error) {
	cfg := DefaultHub()
	if err := load(path, &cfg); err != nil {
		return Hub{}, err
	}
	return cfg, nil
}

func LoadAgent(path string) (Agent, error) {
	cfg := DefaultAgent()
	if err := load(path, &cfg); err != nil {
		return Agent{}, err
	}
	return cfg, nil
}

func LoadCLI(path string) (CLI, error) {
	cfg := DefaultCLI()
	if err := load(path, &cfg); err != nil {
		return CLI{}, err
	}
	return cfg, nil
}

func load(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
