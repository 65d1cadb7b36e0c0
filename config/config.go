// Package config loads driver settings from the environment and kernel jobs
// from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/notargets/cldrive/runner"
)

// Config holds the driver defaults
type Config struct {
	Backend string
	// Device is passed to the backend unchanged (OCCA JSON properties)
	Device        string
	Timeout       time.Duration
	Optimizations bool
	Profiling     bool
	Verbose       bool
}

// Load reads a .env file if one exists, then the CLDRIVE_* environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Backend: firstNonEmpty(strings.TrimSpace(getenv("CLDRIVE_BACKEND")), "occa"),
		Device:  strings.TrimSpace(getenv("CLDRIVE_DEVICE")),
	}

	var err error
	if cfg.Timeout, err = parseSeconds(getenv("CLDRIVE_TIMEOUT")); err != nil {
		return nil, fmt.Errorf("CLDRIVE_TIMEOUT: %w", err)
	}
	if cfg.Optimizations, err = parseBool(getenv("CLDRIVE_OPTIMIZATIONS"), true); err != nil {
		return nil, fmt.Errorf("CLDRIVE_OPTIMIZATIONS: %w", err)
	}
	if cfg.Profiling, err = parseBool(getenv("CLDRIVE_PROFILING"), false); err != nil {
		return nil, fmt.Errorf("CLDRIVE_PROFILING: %w", err)
	}
	if cfg.Verbose, err = parseBool(getenv("CLDRIVE_VERBOSE"), false); err != nil {
		return nil, fmt.Errorf("CLDRIVE_VERBOSE: %w", err)
	}
	return cfg, nil
}

// DeviceSpec names the configured device
func (c *Config) DeviceSpec() runner.DeviceSpec {
	return runner.DeviceSpec{Backend: c.Backend, Properties: c.Device}
}

// parseSeconds reads a timeout in seconds. Empty or negative means none.
func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	s, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return Seconds(s), nil
}

// Seconds converts a timeout in seconds; zero or negative gives no timeout
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func parseBool(raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
