// Package roads loads road networks from shapefiles, GeoJSON, the Overpass
// API and PostGIS, and projects them into planar street segments.
package roads

import (
	"context"
	"errors"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/geo"
	"github.com/sells-group/hotspot-cli/internal/model"
)

// Segment is a road polyline in geographic coordinates as read from a
// source, before projection.
type Segment struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Coords [][2]float64 `json:"coords"` // [lon, lat]
}

// Source produces the road network for one run.
type Source interface {
	Fetch(ctx context.Context) ([]Segment, error)
}

// Static is a Source over segments already held in memory.
type Static []Segment

// Fetch returns the segments unchanged.
func (s Static) Fetch(context.Context) ([]Segment, error) { return s, nil }

// Loader fetches a Source and projects the result.
type Loader struct {
	Source Source
	// Tolerance enables Douglas-Peucker simplification in metres after
	// projection. Zero keeps every vertex.
	Tolerance float64
}

// Load fetches the road network and projects it through norm.
func (l Loader) Load(ctx context.Context, norm *geo.Normalizer) ([]model.StreetSegment, error) {
	segs, err := l.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Project(norm, segs, l.Tolerance)
}

// Project converts segments to the normalizer's planar CRS. Segments
// without points, or with a point the projection rejects, are dropped and
// logged. Any other error aborts.
func Project(norm *geo.Normalizer, segs []Segment, tolerance float64) ([]model.StreetSegment, error) {
	out := make([]model.StreetSegment, 0, len(segs))
	var dropped int
	for _, s := range segs {
		if len(s.Coords) == 0 {
			dropped++
			continue
		}
		line, err := norm.NormalizeLine(s.Coords)
		if err != nil {
			var ice *model.InvalidCoordinateError
			if !errors.As(err, &ice) {
				return nil, err
			}
			zap.L().Debug("roads: dropping segment", zap.String("id", s.ID), zap.Error(err))
			dropped++
			continue
		}
		if tolerance > 0 {
			line = Simplify(line, tolerance)
		}
		out = append(out, model.StreetSegment{ID: s.ID, Name: strings.TrimSpace(s.Name), Line: line})
	}
	if dropped > 0 {
		zap.L().Info("roads: dropped unprojectable segments", zap.Int("dropped", dropped), zap.Int("kept", len(out)))
	}
	return out, nil
}

// Simplify runs Douglas-Peucker over a planar polyline. Endpoints are
// always kept.
func Simplify(line []model.Point2D, tolerance float64) []model.Point2D {
	if len(line) < 3 || tolerance <= 0 {
		return line
	}
	ls := make(orb.LineString, len(line))
	for i, p := range line {
		ls[i] = orb.Point{p.X, p.Y}
	}
	res, ok := simplify.DouglasPeucker(tolerance).Simplify(ls).(orb.LineString)
	if !ok || len(res) < 2 {
		return line
	}
	out := make([]model.Point2D, len(res))
	for i, p := range res {
		out[i] = model.Pt(p[0], p[1])
	}
	return out
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64 `json:"west" yaml:"west" mapstructure:"west"`
	South float64 `json:"south" yaml:"south" mapstructure:"south"`
	East  float64 `json:"east" yaml:"east" mapstructure:"east"`
	North float64 `json:"north" yaml:"north" mapstructure:"north"`
}

// Valid reports whether b is a non-empty box inside the lon/lat domain.
func (b BBox) Valid() bool {
	return b.West >= -180 && b.East <= 180 && b.South >= -90 && b.North <= 90 &&
		b.West < b.East && b.South < b.North
}

// EventBounds returns the lon/lat box around events, grown by pad degrees.
func EventBounds(events []model.RawEvent, pad float64) (BBox, bool) {
	if len(events) == 0 {
		return BBox{}, false
	}
	b := BBox{West: events[0].Lon, East: events[0].Lon, South: events[0].Lat, North: events[0].Lat}
	for _, e := range events[1:] {
		b.West = min(b.West, e.Lon)
		b.East = max(b.East, e.Lon)
		b.South = min(b.South, e.Lat)
		b.North = max(b.North, e.Lat)
	}
	b.West = max(b.West-pad, -180)
	b.East = min(b.East+pad, 180)
	b.South = max(b.South-pad, -90)
	b.North = min(b.North+pad, 90)
	return b, true
}
