package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 100.0, cfg.Hotspot.SideLength, 0.001)
	assert.InDelta(t, 0.05, cfg.Hotspot.BudgetFraction, 0.0001)
	assert.Equal(t, "scott", cfg.Hotspot.BandwidthMethod)
	assert.Equal(t, "gaussian", cfg.Hotspot.Kernel)
	assert.Equal(t, "density", cfg.Hotspot.Scale)
	assert.False(t, cfg.Hotspot.AllowEmpty)
	assert.Equal(t, "EPSG:4326", cfg.Projection.SourceCRS)
	assert.Equal(t, "auto", cfg.Projection.TargetCRS)
	assert.Equal(t, "overpass", cfg.Roads.Source)
	assert.Equal(t, "FULLNAME", cfg.Roads.NameField)
	assert.Equal(t, "road_segments", cfg.Roads.Table)
	assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.Roads.Overpass.Endpoint)
	assert.Equal(t, 3, cfg.Roads.Overpass.MaxAttempts)
	assert.Equal(t, 5, cfg.Roads.Overpass.FailureThreshold)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "hotspot.db", cfg.Store.SQLitePath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 0.0001)
	assert.InDelta(t, 0.25, cfg.Monitoring.ExcludedShareThreshold, 0.0001)
	assert.Equal(t, 30, cfg.Monitoring.StuckRunMinutes)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
hotspot:
  side_length: 250
  kernel: quartic
  bandwidth: 400
roads:
  source: shapefile
  path: tl_2023_36061_roads.zip
  overpass:
    highways: [primary, secondary]
store:
  driver: none
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 250.0, cfg.Hotspot.SideLength, 0.001)
	assert.Equal(t, "quartic", cfg.Hotspot.Kernel)
	assert.InDelta(t, 400.0, cfg.Hotspot.Bandwidth, 0.001)
	assert.Equal(t, "shapefile", cfg.Roads.Source)
	assert.Equal(t, "tl_2023_36061_roads.zip", cfg.Roads.Path)
	assert.Equal(t, []string{"primary", "secondary"}, cfg.Roads.Overpass.Highways)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.05, cfg.Hotspot.BudgetFraction, 0.0001)
	assert.Equal(t, 90, cfg.Roads.Overpass.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HOTSPOT_STORE_DRIVER", "postgres")
	t.Setenv("HOTSPOT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("HOTSPOT_SERVER_PORT", "3000")
	t.Setenv("HOTSPOT_HOTSPOT_BUDGET_FRACTION", "0.1")
	t.Setenv("HOTSPOT_ROADS_OVERPASS_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 0.1, cfg.Hotspot.BudgetFraction, 0.0001)
	assert.Equal(t, 5, cfg.Roads.Overpass.MaxAttempts)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("hotspot: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the Load defaults that matter to
// validation.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Hotspot.SideLength = 100
	cfg.Hotspot.BandwidthMethod = "scott"
	cfg.Hotspot.Kernel = "gaussian"
	cfg.Hotspot.Scale = "density"
	cfg.Hotspot.BudgetFraction = 0.05
	cfg.Roads.Source = "overpass"
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_HotspotParams(t *testing.T) {
	cfg := validDefaults()
	cfg.Hotspot.SideLength = 0
	cfg.Hotspot.BudgetFraction = 1.5
	cfg.Hotspot.MaxAttributionDistance = -1
	cfg.Hotspot.Scale = "raw"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hotspot.side_length must be > 0")
	assert.Contains(t, err.Error(), "hotspot.budget_fraction must be in (0, 1]")
	assert.Contains(t, err.Error(), "hotspot.max_attribution_distance must be >= 0")
	assert.Contains(t, err.Error(), "hotspot.scale must be density or intensity")
}

func TestValidateRun_BandwidthRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Hotspot.BandwidthMethod = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hotspot.bandwidth or hotspot.bandwidth_method is required")

	cfg.Hotspot.Bandwidth = 300
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRoads_Sources(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		path    string
		dbURL   string
		wantErr string
	}{
		{name: "overpass", source: "overpass"},
		{name: "shapefile with path", source: "shapefile", path: "roads.zip"},
		{name: "shapefile without path", source: "shapefile", wantErr: "roads.path is required for the shapefile source"},
		{name: "geojson without path", source: "geojson", wantErr: "roads.path is required for the geojson source"},
		{name: "postgis with url", source: "postgis", dbURL: "postgres://localhost/gis"},
		{name: "postgis without url", source: "postgis", wantErr: "store.database_url is required for the postgis source"},
		{name: "unknown", source: "wfs", wantErr: "roads.source must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			cfg.Roads.Source = tt.source
			cfg.Roads.Path = tt.path
			cfg.Store.DatabaseURL = tt.dbURL

			err := cfg.Validate("roads")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRoads_CacheNeedsDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Roads.Cache = true

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roads.cache is set")

	cfg.Store.DatabaseURL = "postgres://localhost/gis"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
}

func TestValidateServe_MonitoringThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5
	cfg.Monitoring.ExcludedShareThreshold = -0.1

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
	assert.Contains(t, err.Error(), "monitoring.excluded_share_threshold")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for the postgres driver")

	cfg.Store.DatabaseURL = "postgres://localhost/hotspot"
	assert.NoError(t, cfg.Validate("runs"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite, postgres or none")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}
