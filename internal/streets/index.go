// Package streets attributes hotspot cells to the nearest named street.
package streets

import (
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	gogeom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// entry is one indexed segment. The embedded LineString supplies the
// bounds the R-tree needs.
type entry struct {
	geom.LineString
	id   string
	name string
	flat []float64
}

// Index is an immutable spatial index over named street segments. It is
// safe for concurrent lookups.
type Index struct {
	tree    *rtree.Rtree
	size    int
	skipped int
}

// Match is the nearest segment found for a point.
type Match struct {
	ID       string
	Name     string
	Distance float64
}

// NormalizeName puts a street name in NFC form, trims it and collapses
// internal whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// NewIndex builds an index over segments. Segments without a name are
// skipped since they cannot be recommended.
func NewIndex(segments []model.StreetSegment) (*Index, error) {
	idx := &Index{tree: rtree.NewTree(25, 50)}
	for i, s := range segments {
		if len(s.Line) == 0 {
			return nil, model.NewInvalidParameter(model.StageAttribute, "segment", s.ID, "segment "+strconv.Itoa(i)+" has no points")
		}
		name := NormalizeName(s.Name)
		if name == "" {
			idx.skipped++
			continue
		}
		e := &entry{
			LineString: make(geom.LineString, len(s.Line)),
			id:         s.ID,
			name:       name,
			flat:       make([]float64, 0, 2*len(s.Line)),
		}
		for j, p := range s.Line {
			if !p.IsFinite() {
				return nil, model.NewInvalidParameter(model.StageAttribute, "segment", s.ID, "segment "+strconv.Itoa(i)+" has a non-finite point")
			}
			e.LineString[j] = geom.Point{X: p.X, Y: p.Y}
			e.flat = append(e.flat, p.X, p.Y)
		}
		idx.tree.Insert(e)
		idx.size++
	}
	if idx.skipped > 0 {
		zap.L().Debug("streets: skipped unnamed segments", zap.Int("skipped", idx.skipped))
	}
	return idx, nil
}

// Len returns the number of indexed (named) segments.
func (x *Index) Len() int { return x.size }

// Skipped returns the number of unnamed segments left out of the index.
func (x *Index) Skipped() int { return x.skipped }

// Nearest returns the closest segment to p within maxDistance. Ties are
// broken by name, then ID. ok is false when no segment is close enough;
// the returned distance is then the nearest one seen, or +Inf.
func (x *Index) Nearest(p model.Point2D, maxDistance float64) (Match, bool) {
	best := Match{Distance: math.Inf(1)}
	if x == nil || x.size == 0 {
		return best, false
	}
	r := maxDistance*(1+1e-9) + 1e-9
	hits := x.tree.SearchIntersect(&geom.Bounds{
		Min: geom.Point{X: p.X - r, Y: p.Y - r},
		Max: geom.Point{X: p.X + r, Y: p.Y + r},
	})
	pt := []float64{p.X, p.Y}
	for _, h := range hits {
		e := h.(*entry)
		d := distance(pt, e.flat)
		if d < best.Distance ||
			(d == best.Distance && (e.name < best.Name || (e.name == best.Name && e.id < best.ID))) {
			best = Match{ID: e.id, Name: e.name, Distance: d}
		}
	}
	return best, best.Distance <= maxDistance
}

func distance(p, line []float64) float64 {
	if len(line) == 2 {
		return math.Hypot(p[0]-line[0], p[1]-line[1])
	}
	return xy.DistanceFromPointToLineString(gogeom.XY, p, line)
}
