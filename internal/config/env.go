package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Env holds the process-boundary configuration a pipeline binary needs
// before it can touch any configuration file: the script runtime locator,
// the inbound network interface, the outbound interfaces, and the
// discovery port.
type Env struct {
	RuntimeLocator    string   `envconfig:"DPORCH_RUNTIME" default:""`
	InboundInterface  string   `envconfig:"DPORCH_INBOUND_IFACE" required:"true"`
	OutboundInterface []string `envconfig:"DPORCH_OUTBOUND_IFACES" required:"true"`
	DiscoveryPort     int      `envconfig:"DPORCH_DISCOVERY_PORT" default:"5557"`
	Logging           LogConfig
	Metrics           MetricsConfig
}

// LogConfig controls the structured logger every process-level component
// shares.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig controls the optional debug/metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:"127.0.0.1:9090"`
}

// loadEnv reads the process environment into an Env.
func loadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	return &e, nil
}

// LoadOrDefault reads the environment, falling back to Default on error.
func LoadOrDefault() *Env {
	e, err := loadEnv()
	if err != nil {
		return Default()
	}
	return e
}

// Default returns a configuration suitable for local single-host testing.
func Default() *Env {
	return &Env{
		InboundInterface:  "lo",
		OutboundInterface: []string{"lo"},
		DiscoveryPort:     5557,
		Logging:           LogConfig{Level: "info", Development: true},
		Metrics:           MetricsConfig{Enabled: false, Addr: "127.0.0.1:9090"},
	}
}
