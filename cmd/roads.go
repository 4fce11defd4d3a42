package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/events"
	"github.com/sells-group/hotspot-cli/internal/roads"
)

var roadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "Road network commands",
}

var roadsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a road network and save it as GeoJSON or to the PostGIS cache",
	Long: "Fetches named roads inside --bounds, or around the events in --events, from the " +
		"configured road source. Writes GeoJSON to --out and/or upserts into the road_segments cache.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd, cfg)
		cache, _ := cmd.Flags().GetBool("cache")
		out, _ := cmd.Flags().GetString("out")
		if !cache && out == "" {
			return eris.New("roads fetch: set --out, --cache or both")
		}
		if err := cfg.Validate("roads"); err != nil {
			return err
		}

		bbox, err := fetchBounds(cmd)
		if err != nil {
			return err
		}

		// Caching is done here rather than through roads.Cache so the
		// write error is returned.
		cfg.Roads.Cache = false
		src, cleanup, err := roadSource(ctx, cfg, bbox)
		if err != nil {
			return err
		}
		defer cleanup()

		segs, err := src.Fetch(ctx)
		if err != nil {
			return err
		}

		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrapf(err, "roads fetch: create %s", out)
			}
			if err := roads.WriteGeoJSON(f, segs); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return eris.Wrapf(err, "roads fetch: close %s", out)
			}
		}

		if cache {
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := roads.MigrateCache(ctx, pool); err != nil {
				return err
			}
			if _, err := roads.SaveSegments(ctx, pool, cfg.Roads.Source, segs); err != nil {
				return err
			}
		}

		zap.L().Info("roads fetch: complete",
			zap.String("source", cfg.Roads.Source),
			zap.Int("segments", len(segs)),
			zap.String("out", out),
			zap.Bool("cached", cache),
		)
		fmt.Fprintf(os.Stdout, "%d segments from %s\n", len(segs), cfg.Roads.Source)
		return nil
	},
}

func init() {
	f := roadsFetchCmd.Flags()
	f.String("bounds", "", "west,south,east,north in degrees")
	f.String("events", "", "event file whose extent (plus roads.bbox_padding) sets the bounds")
	f.String("out", "", "GeoJSON output file")
	f.Bool("cache", false, "upsert into the PostGIS road_segments table")
	f.String("roads-source", "", "road source: overpass, shapefile, geojson or postgis")
	f.String("roads-path", "", "road file or URL for the shapefile and geojson sources")

	roadsCmd.AddCommand(roadsFetchCmd)
	rootCmd.AddCommand(roadsCmd)
}

// fetchBounds resolves the fetch area from --bounds or --events.
func fetchBounds(cmd *cobra.Command) (roads.BBox, error) {
	if raw, _ := cmd.Flags().GetString("bounds"); raw != "" {
		return parseBBox(raw)
	}
	path, _ := cmd.Flags().GetString("events")
	if path == "" {
		return roads.BBox{}, eris.New("roads fetch: --bounds or --events is required")
	}
	evs, err := events.Load(cmd.Context(), path, eventOptions(cfg))
	if err != nil {
		return roads.BBox{}, err
	}
	bbox, ok := roads.EventBounds(evs, cfg.Roads.BBoxPadding)
	if !ok {
		return roads.BBox{}, eris.Errorf("roads fetch: %s has no events", path)
	}
	return bbox, nil
}
