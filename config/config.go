// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/campuskit/offlinecache/logging"
)

// Config holds everything the offline cache layer needs at startup.
type Config struct {
	// StorePath is the SQLite database file backing the local store.
	StorePath string

	// APIBaseURL is the portal REST API root used for queue replay and
	// connectivity probes.
	APIBaseURL string

	// APIToken is the bearer token attached to replayed requests.
	APIToken string

	// OpTimeout bounds each local store operation.
	OpTimeout time.Duration

	// ReplayTimeout bounds each replayed HTTP request.
	ReplayTimeout time.Duration

	// ProbeInterval is how often connectivity is probed when no platform
	// signal is available.
	ProbeInterval time.Duration

	// Logging configures the structured logger.
	Logging logging.Config
}

// Load builds a Config from PORTAL_-prefixed environment variables, after
// loading an optional .env file from the working directory. Missing values
// fall back to defaults usable out of the box.
func Load() (*Config, error) {
	// Load .env if it exists (ignore if it does not).
	dotEnvPath := filepath.Join(".", ".env")
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PORTAL")
	v.AutomaticEnv()

	v.SetDefault("store_path", defaultStorePath())
	v.SetDefault("api_base_url", "")
	v.SetDefault("api_token", "")
	v.SetDefault("op_timeout", 5*time.Second)
	v.SetDefault("replay_timeout", 30*time.Second)
	v.SetDefault("probe_interval", 30*time.Second)

	return &Config{
		StorePath:     v.GetString("store_path"),
		APIBaseURL:    v.GetString("api_base_url"),
		APIToken:      v.GetString("api_token"),
		OpTimeout:     v.GetDuration("op_timeout"),
		ReplayTimeout: v.GetDuration("replay_timeout"),
		ProbeInterval: v.GetDuration("probe_interval"),
		Logging:       logging.GetConfigFromEnv(),
	}, nil
}

// defaultStorePath places the store in the user's config directory, falling
// back to the working directory when none is available.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "portal-offline.db"
	}
	return filepath.Join(dir, "campuskit", "portal-offline.db")
}
