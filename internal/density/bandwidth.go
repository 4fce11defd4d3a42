package density

import (
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// BandwidthMethod names a rule-of-thumb bandwidth selector.
type BandwidthMethod string

// Supported selectors. In two dimensions Scott's and Silverman's factors
// coincide; Silverman here uses the robust spread min(σ, IQR/1.349).
const (
	Scott     BandwidthMethod = "scott"
	Silverman BandwidthMethod = "silverman"
)

// SelectBandwidth returns h = σ̂ · n^(-1/6), where σ̂ is the mean of the
// per-axis spreads of the event positions.
func SelectBandwidth(events []model.Event, method BandwidthMethod) (float64, error) {
	m := BandwidthMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if m != Scott && m != Silverman {
		return 0, model.NewInvalidParameter(model.StageDensity, "bandwidth_method", string(method), "must be scott or silverman")
	}
	if len(events) < 2 {
		return 0, model.NewInvalidParameter(model.StageDensity, "events", len(events), "bandwidth selection needs at least two events")
	}

	xs := make([]float64, len(events))
	ys := make([]float64, len(events))
	for i, e := range events {
		xs[i] = e.Position.X
		ys[i] = e.Position.Y
	}

	sigma := (spread(xs, m) + spread(ys, m)) / 2
	if sigma <= 0 || math.IsNaN(sigma) {
		return 0, model.NewInvalidParameter(model.StageDensity, "events", len(events), "events have no spatial spread")
	}
	return sigma * math.Pow(float64(len(events)), -1.0/6.0), nil
}

func spread(v []float64, m BandwidthMethod) float64 {
	sd := stat.StdDev(v, nil)
	if m != Silverman {
		return sd
	}
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) - stat.Quantile(0.25, stat.Empirical, sorted, nil)
	if iqr <= 0 {
		return sd
	}
	return math.Min(sd, iqr/1.349)
}

// Stats summarises a density surface.
type Stats struct {
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Sum     float64 `json:"sum"`
	NonZero int     `json:"non_zero"`
}

// Summarize returns summary statistics of g's densities. It returns the
// zero Stats for a grid without densities.
func Summarize(g *model.Grid) Stats {
	if g == nil || !g.HasDensities() || g.Len() == 0 {
		return Stats{}
	}
	d := g.Densities()
	var nz int
	for _, v := range d {
		if v > 0 {
			nz++
		}
	}
	return Stats{
		Max:     floats.Max(d),
		Mean:    stat.Mean(d, nil),
		Sum:     floats.Sum(d),
		NonZero: nz,
	}
}
