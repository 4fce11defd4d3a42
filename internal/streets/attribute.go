package streets

import (
	"math"
	"runtime"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Options configures Attribute.
type Options struct {
	// MaxDistance is the largest centroid-to-street distance accepted.
	// Zero means the grid side length.
	MaxDistance float64
	// Workers bounds concurrent lookups. Zero means GOMAXPROCS.
	Workers int
}

type lookup struct {
	match Match
	ok    bool
}

// Attribute maps every hotspot cell to its nearest street and groups the
// cells by street name. Cells with no street within MaxDistance are
// excluded, counted and reported in Attribution.ExcludedCells.
//
// Recommendations are ranked by their best supporting density descending,
// then by name.
func Attribute(set *model.HotspotSet, idx *Index, opts Options) (*model.Attribution, error) {
	if set == nil {
		return nil, model.NewInvalidParameter(model.StageAttribute, "hotspots", nil, "hotspot set is required")
	}
	if idx == nil {
		return nil, model.NewInvalidParameter(model.StageAttribute, "streets", nil, "street index is required")
	}
	maxDist := opts.MaxDistance
	if maxDist == 0 && set.Len() > 0 {
		maxDist = set.Cells[0].SideLength
	}
	if math.IsNaN(maxDist) || math.IsInf(maxDist, 0) || maxDist < 0 || (maxDist == 0 && set.Len() > 0) {
		return nil, model.NewInvalidParameter(model.StageAttribute, "max_attribution_distance", opts.MaxDistance, "must be a finite number > 0")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	results := make([]lookup, set.Len())
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, c := range set.Cells {
		eg.Go(func() error {
			m, ok := idx.Nearest(c.Centroid, maxDist)
			results[i] = lookup{match: m, ok: ok}
			return nil
		})
	}
	_ = eg.Wait()

	out := &model.Attribution{Recommendations: []model.PatrolRecommendation{}}
	byName := map[string]*model.PatrolRecommendation{}
	for i, c := range set.Cells {
		r := results[i]
		if !r.ok {
			nerr := &model.NoNearbyStreetError{Cell: c.Ref(), Distance: r.match.Distance, MaxDistance: maxDist}
			zap.L().Debug("attribute: cell excluded", zap.Error(nerr))
			out.Excluded++
			out.ExcludedCells = append(out.ExcludedCells, c.Ref())
			continue
		}
		d, _ := c.Density()
		rec, seen := byName[r.match.Name]
		if !seen {
			rec = &model.PatrolRecommendation{StreetName: r.match.Name, BestDensity: d, MinDistance: r.match.Distance}
			byName[r.match.Name] = rec
		}
		rec.SupportingCells = append(rec.SupportingCells, c.Ref())
		rec.BestDensity = math.Max(rec.BestDensity, d)
		rec.MinDistance = math.Min(rec.MinDistance, r.match.Distance)
	}

	for _, rec := range byName {
		slices.SortFunc(rec.SupportingCells, compareRefs)
		out.Recommendations = append(out.Recommendations, *rec)
	}
	slices.SortFunc(out.Recommendations, func(a, b model.PatrolRecommendation) int {
		switch {
		case a.BestDensity > b.BestDensity:
			return -1
		case a.BestDensity < b.BestDensity:
			return 1
		}
		return strings.Compare(a.StreetName, b.StreetName)
	})
	for i := range out.Recommendations {
		out.Recommendations[i].Rank = i + 1
	}
	slices.SortFunc(out.ExcludedCells, compareRefs)

	log := zap.L().With(zap.String("stage", string(model.StageAttribute)))
	if out.Excluded > 0 {
		log.Info("attribute: cells without a nearby street",
			zap.Int("excluded", out.Excluded),
			zap.Float64("max_distance", maxDist),
		)
	}
	log.Info("attribute: streets ranked",
		zap.Int("hotspots", set.Len()),
		zap.Int("streets", len(out.Recommendations)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func compareRefs(a, b model.CellRef) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
