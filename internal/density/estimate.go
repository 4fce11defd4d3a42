// Package density computes a kernel density surface over a grid.
package density

import (
	"math"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Scale selects how the weighted kernel sum is normalised.
type Scale int

const (
	// ScaleDensity divides by n·h², giving a probability density.
	ScaleDensity Scale = iota
	// ScaleIntensity keeps the raw weighted kernel sum divided by h².
	ScaleIntensity
)

// Params configures Estimate.
type Params struct {
	Bandwidth float64
	Kernel    Kernel
	// Workers bounds the number of rows evaluated concurrently. Zero means
	// GOMAXPROCS.
	Workers int
	Scale   Scale
	// AllowEmpty makes an empty event set produce an all-zero surface
	// instead of an error.
	AllowEmpty bool
}

// Estimate returns a copy of g with every cell's density set to
//
//	scale · Σ wᵢ · K(‖centroid − pᵢ‖ / h)
//
// summed over all events, including events outside the grid. Kernels with
// compact support only visit events within their support radius, found
// through an R-tree; candidates are summed in input order so the result
// matches a full scan exactly.
func Estimate(g *model.Grid, events []model.Event, p Params) (*model.Grid, error) {
	if g == nil {
		return nil, model.NewInvalidParameter(model.StageDensity, "grid", nil, "grid is required")
	}
	if g.HasDensities() {
		return nil, model.NewInvalidParameter(model.StageDensity, "grid", g.Len(), "densities already set")
	}
	h := p.Bandwidth
	if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
		return nil, model.NewInvalidParameter(model.StageDensity, "bandwidth", h, "must be a finite number > 0")
	}
	kernel, err := ParseKernel(string(p.Kernel))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && !p.AllowEmpty {
		return nil, model.NewInvalidParameter(model.StageDensity, "events", 0, "event set is empty")
	}
	for i, e := range events {
		if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) || e.Weight < 0 {
			return nil, model.NewInvalidParameter(model.StageDensity, "weight", e.Weight, "must be a finite number >= 0 (event "+strconv.Itoa(i)+")")
		}
		if !e.Position.IsFinite() {
			return nil, model.NewInvalidParameter(model.StageDensity, "position", e.Position, "must be finite (event "+strconv.Itoa(i)+")")
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	values := make([]float64, g.Len())
	if len(events) > 0 {
		scale := 1 / (h * h)
		if p.Scale == ScaleDensity {
			scale /= float64(len(events))
		}

		eval := fullScan(events, kernel, h)
		if kernel.Compact() {
			eval = indexedScan(events, kernel, h)
		}

		var eg errgroup.Group
		eg.SetLimit(workers)
		for r := range g.Rows {
			eg.Go(func() error {
				for c := range g.Cols {
					i := r*g.Cols + c
					values[i] = scale * eval(g.At(i).Centroid)
				}
				return nil
			})
		}
		_ = eg.Wait()
	}

	out, err := g.WithDensities(values)
	if err != nil {
		return nil, err
	}

	zap.L().Info("density: estimated",
		zap.String("stage", string(model.StageDensity)),
		zap.Int("cells", g.Len()),
		zap.Int("events", len(events)),
		zap.String("kernel", string(kernel)),
		zap.Float64("bandwidth", h),
		zap.Int("workers", workers),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

type evaluator func(c model.Point2D) float64

func fullScan(events []model.Event, k Kernel, h float64) evaluator {
	return func(c model.Point2D) float64 {
		var sum float64
		for _, e := range events {
			sum += e.Weight * k.Eval(c.Distance(e.Position)/h)
		}
		return sum
	}
}

// indexedEvent is an event stored in the R-tree.
type indexedEvent struct {
	geom.Point
	idx int
}

func indexedScan(events []model.Event, k Kernel, h float64) evaluator {
	tree := rtree.NewTree(25, 50)
	for i, e := range events {
		tree.Insert(&indexedEvent{Point: geom.Point{X: e.Position.X, Y: e.Position.Y}, idx: i})
	}
	// pad the query box so events exactly on the support radius are found
	radius := k.Support()*h*(1+1e-9) + 1e-9

	return func(c model.Point2D) float64 {
		hits := tree.SearchIntersect(&geom.Bounds{
			Min: geom.Point{X: c.X - radius, Y: c.Y - radius},
			Max: geom.Point{X: c.X + radius, Y: c.Y + radius},
		})
		if len(hits) == 0 {
			return 0
		}
		idx := make([]int, len(hits))
		for i, hit := range hits {
			idx[i] = hit.(*indexedEvent).idx
		}
		slices.Sort(idx)

		var sum float64
		for _, i := range idx {
			e := events[i]
			sum += e.Weight * k.Eval(c.Distance(e.Position)/h)
		}
		return sum
	}
}
