package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Hotspot    HotspotConfig    `yaml:"hotspot" mapstructure:"hotspot"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Roads      RoadsConfig      `yaml:"roads" mapstructure:"roads"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// HotspotConfig holds the grid, density, selection and attribution
// parameters.
type HotspotConfig struct {
	SideLength             float64 `yaml:"side_length" mapstructure:"side_length"`
	Bandwidth              float64 `yaml:"bandwidth" mapstructure:"bandwidth"`
	BandwidthMethod        string  `yaml:"bandwidth_method" mapstructure:"bandwidth_method"`
	Kernel                 string  `yaml:"kernel" mapstructure:"kernel"`
	Scale                  string  `yaml:"scale" mapstructure:"scale"` // density or intensity
	BudgetFraction         float64 `yaml:"budget_fraction" mapstructure:"budget_fraction"`
	MaxAttributionDistance float64 `yaml:"max_attribution_distance" mapstructure:"max_attribution_distance"`
	RegionMargin           float64 `yaml:"region_margin" mapstructure:"region_margin"`
	Workers                int     `yaml:"workers" mapstructure:"workers"`
	AllowEmpty             bool    `yaml:"allow_empty" mapstructure:"allow_empty"`
}

// ProjectionConfig names the input and working coordinate systems.
type ProjectionConfig struct {
	SourceCRS string `yaml:"source_crs" mapstructure:"source_crs"`
	TargetCRS string `yaml:"target_crs" mapstructure:"target_crs"` // "auto" picks a UTM zone
}

// RoadsConfig selects and tunes the road network source.
type RoadsConfig struct {
	Source            string         `yaml:"source" mapstructure:"source"` // overpass, shapefile, geojson, postgis
	Path              string         `yaml:"path" mapstructure:"path"`
	NameField         string         `yaml:"name_field" mapstructure:"name_field"`
	IDField           string         `yaml:"id_field" mapstructure:"id_field"`
	Table             string         `yaml:"table" mapstructure:"table"`
	SimplifyTolerance float64        `yaml:"simplify_tolerance" mapstructure:"simplify_tolerance"`
	BBoxPadding       float64        `yaml:"bbox_padding" mapstructure:"bbox_padding"` // degrees around the events
	Cache             bool           `yaml:"cache" mapstructure:"cache"`
	TempDir           string         `yaml:"temp_dir" mapstructure:"temp_dir"`
	Overpass          OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
}

// OverpassConfig tunes the Overpass API client.
type OverpassConfig struct {
	Endpoint          string   `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Highways          []string `yaml:"highways" mapstructure:"highways"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts       int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int      `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int      `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold  int      `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int      `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EventsConfig configures event file parsing.
type EventsConfig struct {
	LonColumn    string `yaml:"lon_column" mapstructure:"lon_column"`
	LatColumn    string `yaml:"lat_column" mapstructure:"lat_column"`
	WeightColumn string `yaml:"weight_column" mapstructure:"weight_column"`
	Sheet        string `yaml:"sheet" mapstructure:"sheet"`
	Delimiter    string `yaml:"delimiter" mapstructure:"delimiter"`
	SkipInvalid  bool   `yaml:"skip_invalid" mapstructure:"skip_invalid"`
	Holdout      string `yaml:"holdout" mapstructure:"holdout"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or none
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxEvents      int      `yaml:"max_events" mapstructure:"max_events"`
}

// MonitoringConfig configures run health checks and webhook alerts.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ExcludedShareThreshold float64 `yaml:"excluded_share_threshold" mapstructure:"excluded_share_threshold"`
	StuckRunMinutes        int     `yaml:"stuck_run_minutes" mapstructure:"stuck_run_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HOTSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("hotspot.side_length", 100.0)
	v.SetDefault("hotspot.bandwidth", 0.0)
	v.SetDefault("hotspot.bandwidth_method", "scott")
	v.SetDefault("hotspot.kernel", "gaussian")
	v.SetDefault("hotspot.scale", "density")
	v.SetDefault("hotspot.budget_fraction", 0.05)
	v.SetDefault("hotspot.max_attribution_distance", 0.0)
	v.SetDefault("hotspot.region_margin", 0.0)
	v.SetDefault("hotspot.workers", 0)
	v.SetDefault("hotspot.allow_empty", false)
	v.SetDefault("projection.source_crs", "EPSG:4326")
	v.SetDefault("projection.target_crs", "auto")
	v.SetDefault("roads.source", "overpass")
	v.SetDefault("roads.name_field", "FULLNAME")
	v.SetDefault("roads.table", "road_segments")
	v.SetDefault("roads.simplify_tolerance", 0.0)
	v.SetDefault("roads.bbox_padding", 0.005)
	v.SetDefault("roads.overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("roads.overpass.timeout_secs", 90)
	v.SetDefault("roads.overpass.requests_per_second", 1.0)
	v.SetDefault("roads.overpass.max_attempts", 3)
	v.SetDefault("roads.overpass.initial_backoff_ms", 1000)
	v.SetDefault("roads.overpass.max_backoff_ms", 30000)
	v.SetDefault("roads.overpass.failure_threshold", 5)
	v.SetDefault("roads.overpass.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "hotspot.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.max_events", 500000)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.excluded_share_threshold", 0.25)
	v.SetDefault("monitoring.stuck_run_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "run",
// "serve", "roads" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	needsHotspot := mode == "run" || mode == "serve"
	if needsHotspot {
		h := c.Hotspot
		if h.SideLength <= 0 {
			errs = append(errs, "hotspot.side_length must be > 0")
		}
		if h.Bandwidth < 0 {
			errs = append(errs, "hotspot.bandwidth must be >= 0")
		}
		if h.Bandwidth == 0 && h.BandwidthMethod == "" {
			errs = append(errs, "hotspot.bandwidth or hotspot.bandwidth_method is required")
		}
		if h.BudgetFraction <= 0 || h.BudgetFraction > 1 {
			errs = append(errs, "hotspot.budget_fraction must be in (0, 1]")
		}
		if h.MaxAttributionDistance < 0 {
			errs = append(errs, "hotspot.max_attribution_distance must be >= 0")
		}
		if h.Scale != "" && h.Scale != "density" && h.Scale != "intensity" {
			errs = append(errs, "hotspot.scale must be density or intensity")
		}
		if h.Workers < 0 {
			errs = append(errs, "hotspot.workers must be >= 0")
		}
	}

	switch mode {
	case "run", "roads":
		switch c.Roads.Source {
		case "overpass":
		case "shapefile", "geojson":
			if c.Roads.Path == "" {
				errs = append(errs, "roads.path is required for the "+c.Roads.Source+" source")
			}
		case "postgis":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgis source")
			}
		default:
			errs = append(errs, "roads.source must be overpass, shapefile, geojson or postgis")
		}
		if c.Roads.Cache && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required when roads.cache is set")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		m := c.Monitoring
		if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be in [0, 1]")
		}
		if m.ExcludedShareThreshold < 0 || m.ExcludedShareThreshold > 1 {
			errs = append(errs, "monitoring.excluded_share_threshold must be in [0, 1]")
		}
	case "runs":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "none", "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or none")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
