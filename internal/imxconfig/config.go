// Package imxconfig loads engine configuration from a JWCC (JSON with
// comments and trailing commas) file on disk, layering file values over
// built-in defaults and validating the result before it reaches
// [imxengine.Open].
package imxconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/imxengine/imxengine/pkg/imxengine"
)

// errConfigInvalid wraps every validation failure below, so callers can
// check errors.Is(err, errConfigInvalid) without matching on message text.
var errConfigInvalid = errors.New("imxconfig: invalid")

// FileConfig is the on-disk shape of engine.json, mirroring
// [imxengine.Config] with JSON tags and all-optional fields.
type FileConfig struct {
	RootPath         string `json:"root_path"`
	TotalSectors     int    `json:"total_sectors,omitempty"`
	SectorSize       int    `json:"sector_size,omitempty"`
	HighWaterPercent int    `json:"high_water_percent,omitempty"`
	BucketSize       int    `json:"bucket_size,omitempty"`
	DiskBase         uint32 `json:"disk_base,omitempty"`
	CancelTimeoutMS  int    `json:"cancel_timeout_ms,omitempty"`
	DiskSectorSize   int    `json:"disk_sector_size,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled,omitempty"`
	MetricsAddr    string `json:"metrics_addr,omitempty"`

	CatalogEnabled bool `json:"catalog_enabled,omitempty"`
}

// Default returns the file configuration with metrics and the catalog
// enabled; every other field is left at its zero value and defers to
// [imxengine.Config]'s own defaults.
func Default() FileConfig {
	return FileConfig{
		MetricsEnabled: true,
		CatalogEnabled: true,
	}
}

// Load reads and parses a JWCC config file at path. A missing file is not
// an error: Default() is returned unchanged.
func Load(path string) (FileConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, not request-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return FileConfig{}, fmt.Errorf("read config %s: %w: %w", path, errConfigInvalid, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w: %w", path, errConfigInvalid, err)
	}

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("decode config %s: %w: %w", path, errConfigInvalid, err)
	}

	err = validate(cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}

func validate(cfg FileConfig) error {
	if cfg.HighWaterPercent != 0 && (cfg.HighWaterPercent <= 0 || cfg.HighWaterPercent > 100) {
		return fmt.Errorf("high_water_percent out of range: %w", errConfigInvalid)
	}

	if cfg.MetricsEnabled && cfg.MetricsAddr != "" {
		if cfg.MetricsAddr[0] != ':' {
			return fmt.Errorf("metrics_addr must be a listen address like \":9100\": %w", errConfigInvalid)
		}
	}

	return nil
}

// ToEngineConfig projects the file config onto an [imxengine.Config],
// leaving every unset field at its zero value so imxengine.Config's own
// withDefaults step fills it in.
func (c FileConfig) ToEngineConfig(rootPathOverride string) imxengine.Config {
	root := c.RootPath
	if rootPathOverride != "" {
		root = rootPathOverride
	}

	return imxengine.Config{
		RootPath:         root,
		TotalSectors:     c.TotalSectors,
		SectorSize:       c.SectorSize,
		HighWaterPercent: c.HighWaterPercent,
		BucketSize:       c.BucketSize,
		DiskBase:         c.DiskBase,
		CancelTimeoutMS:  c.CancelTimeoutMS,
		DiskSectorSize:   c.DiskSectorSize,
		MetricsEnabled:   c.MetricsEnabled,
		MetricsAddr:      c.MetricsAddr,
		CatalogEnabled:   c.CatalogEnabled,
	}
}

// Marshal renders cfg as formatted JSON, used by a host to write out a
// starter engine.json.
func Marshal(cfg FileConfig) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("imxconfig: marshal: %w", err)
	}

	return string(data), nil
}
