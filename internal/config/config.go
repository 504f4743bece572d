// Package config loads the Traffic Controller's runtime configuration
// from environment variables (spec §6), layered over built-in defaults
// via koanf.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the controller's runtime configuration (spec §6).
type Config struct {
	Port                         int    // PORT
	PostOfficeURL                string // POSTOFFICE_URL (hosts the service-registry collaborator)
	SecurityURL                  string // SECURITY_URL (bearer token verification collaborator)
	MissionControlURL            string // MISSIONCONTROL_URL
	PrimaryWorkerURL             string // PRIMARY_WORKER_URL
	PrimaryWorkerCapacity        int    // PRIMARY_WORKER_CAPACITY (default 250)
	WorkerRefreshIntervalSeconds int    // WORKER_REFRESH_INTERVAL_SECONDS (default 60)
	ReaperIntervalSeconds        int    // REAPER_INTERVAL_SECONDS (default 60)
	OrphanSweepIntervalSeconds   int    // not an env var in spec §6; fixed at the spec's 300s default
}

const orphanSweepDefaultSeconds = 300

// defaults returns the built-in values spec §6 specifies.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"port":                            "5080",
		"postoffice_url":                  "",
		"security_url":                    "",
		"missioncontrol_url":              "",
		"primary_worker_url":              "",
		"primary_worker_capacity":         "250",
		"worker_refresh_interval_seconds": "60",
		"reaper_interval_seconds":         "60",
	}
}

// Load reads configuration from the process environment, layered over
// spec §6's defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	port, err := strconv.Atoi(k.String("port"))
	if err != nil {
		return nil, fmt.Errorf("parse PORT: %w", err)
	}
	capacity, err := strconv.Atoi(k.String("primary_worker_capacity"))
	if err != nil {
		return nil, fmt.Errorf("parse PRIMARY_WORKER_CAPACITY: %w", err)
	}
	refreshInterval, err := strconv.Atoi(k.String("worker_refresh_interval_seconds"))
	if err != nil {
		return nil, fmt.Errorf("parse WORKER_REFRESH_INTERVAL_SECONDS: %w", err)
	}
	reaperInterval, err := strconv.Atoi(k.String("reaper_interval_seconds"))
	if err != nil {
		return nil, fmt.Errorf("parse REAPER_INTERVAL_SECONDS: %w", err)
	}

	c := &Config{
		Port:                         port,
		PostOfficeURL:                k.String("postoffice_url"),
		SecurityURL:                  k.String("security_url"),
		MissionControlURL:            k.String("missioncontrol_url"),
		PrimaryWorkerURL:             k.String("primary_worker_url"),
		PrimaryWorkerCapacity:        capacity,
		WorkerRefreshIntervalSeconds: refreshInterval,
		ReaperIntervalSeconds:        reaperInterval,
		OrphanSweepIntervalSeconds:   orphanSweepDefaultSeconds,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration values. A PRIMARY_WORKER_CAPACITY of
// 0 is a misconfiguration per spec §9's resolution of the open question
// on primary-worker placeholders ("capacity 0" is never valid).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.PrimaryWorkerCapacity <= 0 {
		return fmt.Errorf("PRIMARY_WORKER_CAPACITY must be positive, got %d", c.PrimaryWorkerCapacity)
	}
	if c.WorkerRefreshIntervalSeconds <= 0 {
		return fmt.Errorf("WORKER_REFRESH_INTERVAL_SECONDS must be positive, got %d", c.WorkerRefreshIntervalSeconds)
	}
	if c.ReaperIntervalSeconds <= 0 {
		return fmt.Errorf("REAPER_INTERVAL_SECONDS must be positive, got %d", c.ReaperIntervalSeconds)
	}
	return nil
}
