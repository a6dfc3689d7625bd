package imxconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imxengine/imxengine/internal/imxconfig"
)

// Contract: a missing config file is not an error — Load returns the
// built-in defaults unchanged.
func Test_Load_MissingFile_ReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := imxconfig.Load(filepath.Join(t.TempDir(), "nope.jsonc"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg != imxconfig.Default() {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, imxconfig.Default())
	}
}

// Contract: JWCC comments and trailing commas are accepted, and file
// values override the defaults field-by-field.
func Test_Load_ParsesJWCC_AndOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.jsonc")

	contents := `{
		// sensor pool sizing
		"root_path": "/var/lib/telemetry",
		"total_sectors": 512,
		"high_water_percent": 70,
		"metrics_enabled": false,
	}`

	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := imxconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RootPath != "/var/lib/telemetry" {
		t.Fatalf("RootPath = %q", cfg.RootPath)
	}

	if cfg.TotalSectors != 512 {
		t.Fatalf("TotalSectors = %d, want 512", cfg.TotalSectors)
	}

	if cfg.HighWaterPercent != 70 {
		t.Fatalf("HighWaterPercent = %d, want 70", cfg.HighWaterPercent)
	}

	if cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = true, want false (explicitly overridden)")
	}

	if !cfg.CatalogEnabled {
		t.Fatalf("CatalogEnabled = false, want true (untouched default)")
	}
}

// Contract: an out-of-range high_water_percent is rejected before it can
// reach imxengine.Open.
func Test_Load_RejectsInvalidHighWaterPercent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.jsonc")

	if err := os.WriteFile(path, []byte(`{"high_water_percent": 150}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := imxconfig.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for high_water_percent=150")
	}
}

// Contract: ToEngineConfig lets a caller-supplied root path override the
// file's own root_path (e.g. a CLI --root flag winning over engine.json).
func Test_ToEngineConfig_RootPathOverride(t *testing.T) {
	t.Parallel()

	cfg := imxconfig.FileConfig{RootPath: "/from/file", TotalSectors: 128}

	engCfg := cfg.ToEngineConfig("/from/flag")

	if engCfg.RootPath != "/from/flag" {
		t.Fatalf("RootPath = %q, want override to win", engCfg.RootPath)
	}

	if engCfg.TotalSectors != 128 {
		t.Fatalf("TotalSectors = %d, want 128 carried through", engCfg.TotalSectors)
	}
}

// Contract: Marshal round-trips through Load.
func Test_Marshal_RoundTripsThroughLoad(t *testing.T) {
	t.Parallel()

	cfg := imxconfig.FileConfig{RootPath: "/data", TotalSectors: 256, HighWaterPercent: 80}

	text, err := imxconfig.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "engine.json")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := imxconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.RootPath != cfg.RootPath || got.TotalSectors != cfg.TotalSectors {
		t.Fatalf("got %+v, want %+v", got, cfg)
	}
}
