// Package config loads portal settings from a TOML file. Server flags
// (host, port, data dir) stay on the CLI; this file carries the
// deployment-specific paths and service endpoints.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Portal is the portal configuration file.
type Portal struct {
	// BaseAOIPath is the GeoJSON file holding the permanent project AOI,
	// installed at startup as the locked base region.
	BaseAOIPath string `toml:"base_aoi_path"`

	// RasterRoot is the directory tree scanned for clippable GeoTIFFs.
	RasterRoot string `toml:"raster_root"`

	// ClipServiceURL is the base URL of the external raster clip service.
	ClipServiceURL string `toml:"clip_service_url"`

	// PendingRetry is how long to wait before the single deferred retry
	// of an overlay that arrived ahead of its region.
	PendingRetry duration `toml:"pending_retry"`
}

// duration lets TOML carry values like "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads and validates a portal config file.
func Load(path string) (Portal, error) {
	var cfg Portal
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Portal{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Portal{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() Portal {
	var cfg Portal
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Portal) {
	if cfg.ClipServiceURL == "" {
		cfg.ClipServiceURL = "http://localhost:8000/api/v1/rasters"
	}
	if cfg.PendingRetry.Duration == 0 {
		cfg.PendingRetry.Duration = 500 * time.Millisecond
	}
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg Portal) error {
	if strings.TrimSpace(cfg.ClipServiceURL) == "" {
		return fmt.Errorf("portal config missing clip_service_url")
	}
	if strings.HasSuffix(cfg.ClipServiceURL, "/") {
		return fmt.Errorf("clip_service_url must not end with a slash: %q", cfg.ClipServiceURL)
	}
	if cfg.PendingRetry.Duration < 0 {
		return fmt.Errorf("pending_retry must not be negative")
	}
	return nil
}

// RetryDelay returns the configured pending retry delay.
func (p Portal) RetryDelay() time.Duration {
	return p.PendingRetry.Duration
}
