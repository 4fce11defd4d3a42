package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/hotspot-cli/internal/density"
	"github.com/sells-group/hotspot-cli/internal/events"
	"github.com/sells-group/hotspot-cli/internal/geo"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/pipeline"
)

var bandwidthCmd = &cobra.Command{
	Use:   "bandwidth",
	Short: "Suggest kernel bandwidths for an event file",
	Long:  "Projects the events and prints the Scott and Silverman rule-of-thumb bandwidths in metres.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyRunFlags(cmd, cfg)

		path, _ := cmd.Flags().GetString("events")
		raw, err := events.Load(ctx, path, eventOptions(cfg))
		if err != nil {
			return err
		}

		target := cfg.Projection.TargetCRS
		if target == "" || strings.EqualFold(target, pipeline.AutoCRS) {
			if target, err = geo.AutoTarget(raw); err != nil {
				return err
			}
		}
		norm, err := geo.NewNormalizer(cfg.Projection.SourceCRS, target)
		if err != nil {
			return err
		}
		evs, err := norm.Normalize(raw)
		if err != nil {
			return err
		}

		rows, err := suggestBandwidths(evs)
		if err != nil {
			return err
		}
		formatBandwidths(os.Stdout, norm.Target(), len(evs), rows)
		return nil
	},
}

func init() {
	bandwidthCmd.Flags().String("events", "", "event file (.csv, .tsv, .xlsx or .json)")
	bandwidthCmd.Flags().String("target-crs", "", "planar CRS (EPSG code, proj4 string or auto)")
	_ = bandwidthCmd.MarkFlagRequired("events")
	rootCmd.AddCommand(bandwidthCmd)
}

type bandwidthRow struct {
	Method density.BandwidthMethod
	Value  float64
}

func suggestBandwidths(evs []model.Event) ([]bandwidthRow, error) {
	methods := []density.BandwidthMethod{density.Scott, density.Silverman}
	rows := make([]bandwidthRow, 0, len(methods))
	for _, m := range methods {
		h, err := density.SelectBandwidth(evs, m)
		if err != nil {
			return nil, err
		}
		rows = append(rows, bandwidthRow{Method: m, Value: h})
	}
	return rows, nil
}

func formatBandwidths(out io.Writer, crs string, n int, rows []bandwidthRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CRS:\t%s\n", crs)
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", n)
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%.1f m\n", strings.ToUpper(string(r.Method[:1]))+string(r.Method[1:]), r.Value)
	}
	_ = w.Flush()
}
