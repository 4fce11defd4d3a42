package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hotspot-cli/internal/config"
	"github.com/sells-group/hotspot-cli/internal/density"
	"github.com/sells-group/hotspot-cli/internal/events"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/pipeline"
	"github.com/sells-group/hotspot-cli/internal/report"
	"github.com/sells-group/hotspot-cli/internal/resilience"
	"github.com/sells-group/hotspot-cli/internal/roads"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect hotspots in an event file and rank patrol streets",
	Long: "Loads events (CSV, TSV, XLSX or JSON), fetches the road network, runs the " +
		"normalize, grid, density, select and attribute stages, and writes a report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		eventsPath, _ := cmd.Flags().GetString("events")
		evs, err := events.Load(ctx, eventsPath, eventOptions(cfg))
		if err != nil {
			return err
		}
		var holdout []model.RawEvent
		if cfg.Events.Holdout != "" {
			if holdout, err = events.Load(ctx, cfg.Events.Holdout, eventOptions(cfg)); err != nil {
				return eris.Wrap(err, "run: load holdout")
			}
		}

		pcfg, err := pipelineConfig(cfg)
		if err != nil {
			return err
		}
		bbox, ok := roads.EventBounds(evs, cfg.Roads.BBoxPadding)
		if raw, _ := cmd.Flags().GetString("bounds"); raw != "" {
			if bbox, err = parseBBox(raw); err != nil {
				return err
			}
			pcfg.LonLatBounds = &model.BBox{MinX: bbox.West, MinY: bbox.South, MaxX: bbox.East, MaxY: bbox.North}
			ok = true
		}
		if !ok {
			return model.NewInvalidParameter(model.StageRegion, "events", 0, "event file is empty; pass --bounds")
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		src, cleanup, err := roadSource(ctx, cfg, bbox)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := pipeline.New(pcfg, st).Run(ctx, pipeline.Input{
			Events:  evs,
			Holdout: holdout,
			Roads:   roads.Loader{Source: src, Tolerance: cfg.Roads.SimplifyTolerance},
		})
		if err != nil {
			return err
		}

		rep := report.FromResult(res)
		out, _ := cmd.Flags().GetString("out")
		if out != "" {
			if err := report.WriteFile(out, rep, unprojector(res)); err != nil {
				return err
			}
			zap.L().Info("run: report written", zap.String("path", out), zap.String("run_id", res.RunID))
			return nil
		}
		format, _ := cmd.Flags().GetString("format")
		f, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		return report.Write(os.Stdout, f, rep, unprojector(res))
	},
}

func init() {
	f := runCmd.Flags()
	f.String("events", "", "event file (.csv, .tsv, .xlsx or .json)")
	f.String("holdout", "", "held-out event file scored against the hotspots")
	f.String("out", "", "report file; format from extension (.txt, .csv, .xlsx, .json, .yaml, .geojson)")
	f.String("format", "text", "stdout report format when --out is not set")
	f.String("bounds", "", "study area as west,south,east,north in degrees (default: event extent)")
	f.Float64("side", 0, "cell side length in metres (default from config)")
	f.Float64("bandwidth", 0, "kernel bandwidth in metres; 0 selects it from the events")
	f.String("kernel", "", "kernel: gaussian, epanechnikov, uniform, quartic, triangular, exponential")
	f.Float64("budget", 0, "fraction of the study area to select (default 0.05)")
	f.String("target-crs", "", "planar CRS (EPSG code, proj4 string or auto)")
	f.String("roads-source", "", "road source: overpass, shapefile, geojson or postgis")
	f.String("roads-path", "", "road file or URL for the shapefile and geojson sources")
	_ = runCmd.MarkFlagRequired("events")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("side") {
		c.Hotspot.SideLength, _ = f.GetFloat64("side")
	}
	if f.Changed("bandwidth") {
		c.Hotspot.Bandwidth, _ = f.GetFloat64("bandwidth")
	}
	if f.Changed("kernel") {
		c.Hotspot.Kernel, _ = f.GetString("kernel")
	}
	if f.Changed("budget") {
		c.Hotspot.BudgetFraction, _ = f.GetFloat64("budget")
	}
	if f.Changed("target-crs") {
		c.Projection.TargetCRS, _ = f.GetString("target-crs")
	}
	if f.Changed("roads-source") {
		c.Roads.Source, _ = f.GetString("roads-source")
	}
	if f.Changed("roads-path") {
		c.Roads.Path, _ = f.GetString("roads-path")
	}
	if f.Changed("holdout") {
		c.Events.Holdout, _ = f.GetString("holdout")
	}
}

// pipelineConfig maps the hotspot and projection sections to a pipeline
// configuration.
func pipelineConfig(c *config.Config) (pipeline.Config, error) {
	h := c.Hotspot
	kernel, err := density.ParseKernel(h.Kernel)
	if err != nil {
		return pipeline.Config{}, err
	}
	scale, err := parseScale(h.Scale)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		SideLength:             h.SideLength,
		Bandwidth:              h.Bandwidth,
		BandwidthMethod:        density.BandwidthMethod(h.BandwidthMethod),
		Kernel:                 kernel,
		Scale:                  scale,
		BudgetFraction:         h.BudgetFraction,
		MaxAttributionDistance: h.MaxAttributionDistance,
		Workers:                h.Workers,
		AllowEmpty:             h.AllowEmpty,
		RegionMargin:           h.RegionMargin,
		SourceCRS:              c.Projection.SourceCRS,
		TargetCRS:              c.Projection.TargetCRS,
	}, nil
}

func parseScale(s string) (density.Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "density":
		return density.ScaleDensity, nil
	case "intensity":
		return density.ScaleIntensity, nil
	}
	return 0, model.NewInvalidParameter(model.StageDensity, "scale", s, "must be density or intensity")
}

func eventOptions(c *config.Config) events.Options {
	opts := events.Options{
		Columns: events.Columns{
			Lon:    c.Events.LonColumn,
			Lat:    c.Events.LatColumn,
			Weight: c.Events.WeightColumn,
		},
		Sheet:       c.Events.Sheet,
		SkipInvalid: c.Events.SkipInvalid,
	}
	switch d := c.Events.Delimiter; {
	case d == `\t` || d == "tab":
		opts.Delimiter = '\t'
	case d != "":
		opts.Delimiter = []rune(d)[0]
	}
	return opts
}

// roadSource builds the configured road source for bbox. The returned
// cleanup releases any pool the source holds.
func roadSource(ctx context.Context, c *config.Config, bbox roads.BBox) (roads.Source, func(), error) {
	noop := func() {}
	r := c.Roads

	var src roads.Source
	switch r.Source {
	case "overpass":
		src = overpassSource(r.Overpass, bbox)
	case "shapefile":
		src = roads.Shapefile{Path: r.Path, NameField: r.NameField, IDField: r.IDField, TempDir: r.TempDir}
	case "geojson":
		src = roads.GeoJSON{Path: r.Path}
	case "postgis":
		pool, err := openPool(ctx, c)
		if err != nil {
			return nil, noop, err
		}
		return roads.PostGIS{Pool: pool, Table: r.Table, BBox: bbox}, pool.Close, nil
	default:
		return nil, noop, eris.Errorf("run: unsupported road source %q", r.Source)
	}

	if !r.Cache {
		return src, noop, nil
	}
	pool, err := openPool(ctx, c)
	if err != nil {
		return nil, noop, err
	}
	if err := roads.MigrateCache(ctx, pool); err != nil {
		pool.Close()
		return nil, noop, err
	}
	return roads.Cache{Source: src, Pool: pool, Name: r.Source}, pool.Close, nil
}

func overpassSource(oc config.OverpassConfig, bbox roads.BBox) *roads.Overpass {
	o := roads.NewOverpass(oc.Endpoint, bbox)
	o.Highways = oc.Highways
	if oc.TimeoutSecs > 0 {
		o.Timeout = time.Duration(oc.TimeoutSecs) * time.Second
	}
	if oc.RequestsPerSecond > 0 {
		o.Limiter = rate.NewLimiter(rate.Limit(oc.RequestsPerSecond), 1)
	}
	o.Retry = resilience.FromRetryConfig(oc.MaxAttempts, oc.InitialBackoffMs, oc.MaxBackoffMs)
	o.Breaker = resilience.NewCircuitBreaker("overpass", resilience.FromCircuitConfig(oc.FailureThreshold, oc.ResetTimeoutSecs))
	return o
}

// parseBBox parses "west,south,east,north" in degrees.
func parseBBox(s string) (roads.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return roads.BBox{}, eris.Errorf("invalid bounds %q: want west,south,east,north", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return roads.BBox{}, eris.Wrapf(err, "invalid bounds %q", s)
		}
		v[i] = f
	}
	b := roads.BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if !b.Valid() {
		return roads.BBox{}, eris.Errorf("invalid bounds %q: not a lon/lat box", s)
	}
	return b, nil
}

// unprojector returns the run's normalizer as a report.Unprojector, or nil
// for planar runs.
func unprojector(res *pipeline.Result) report.Unprojector {
	if res.Normalizer == nil {
		return nil
	}
	return res.Normalizer
}
